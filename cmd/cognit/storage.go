package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sovereignedge/cognit-device-runtime/internal/storage"
)

func newStorageCmd() *cobra.Command {
	var cfg storage.Config

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Move payloads through the shared object store",
	}
	cmd.PersistentFlags().StringVar(&cfg.Endpoint, "endpoint", os.Getenv("COGNIT_STORAGE_ENDPOINT"), "object store endpoint")
	cmd.PersistentFlags().StringVar(&cfg.AccessKey, "access-key", os.Getenv("COGNIT_STORAGE_ACCESS_KEY"), "access key")
	cmd.PersistentFlags().StringVar(&cfg.SecretKey, "secret-key", os.Getenv("COGNIT_STORAGE_SECRET_KEY"), "secret key")
	cmd.PersistentFlags().BoolVar(&cfg.UseSSL, "ssl", true, "use TLS towards the object store")
	cmd.PersistentFlags().StringVar(&cfg.Bucket, "bucket", "cognit-payloads", "bucket name")

	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a payload file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			store, ctx, cancel, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer cancel()
			name := filepath.Base(args[0])
			if err := store.Put(ctx, name, blob); err != nil {
				return err
			}
			fmt.Printf("uploaded %s (%d bytes)\n", name, len(blob))
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <object>",
		Short: "Download a payload to the current directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ctx, cancel, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer cancel()
			blob, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Base(args[0]), blob, 0o644); err != nil {
				return err
			}
			fmt.Printf("downloaded %s (%d bytes)\n", args[0], len(blob))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored payloads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			store, ctx, cancel, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer cancel()
			names, err := store.List(ctx, prefix)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.AddCommand(put, get, list)
	return cmd
}

func openStore(cfg storage.Config) (*storage.Store, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	store, err := storage.New(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return store, ctx, cancel, nil
}
