package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sovereignedge/cognit-device-runtime/internal/cache"
	"github.com/sovereignedge/cognit-device-runtime/internal/cognitfc"
	"github.com/sovereignedge/cognit-device-runtime/internal/faas"
	"github.com/sovereignedge/cognit-device-runtime/internal/uploadcache"
)

func newRequirementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requirements",
		Short: "Manage the application requirements record",
	}
	cmd.AddCommand(newRequirementsValidateCmd(), newRequirementsRegisterCmd(), newClustersCmd())
	return cmd
}

func newRequirementsValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a requirements file without contacting the fabric",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadRequirements(path)
			if err != nil {
				return err
			}
			if err := reqs.Validate(); err != nil {
				return err
			}
			fmt.Println("requirements are valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to the requirements JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRequirementsRegisterCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a requirements record and print its ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadRequirements(path)
			if err != nil {
				return err
			}
			client, ctx, cancel, err := frontendClient()
			if err != nil {
				return err
			}
			defer cancel()

			if err := client.RegisterOrUpdate(ctx, reqs); err != nil {
				return err
			}
			fmt.Printf("registered: app_req_id=%d\n", client.AppReqID())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to the requirements JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newClustersCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Register a requirements record and list its candidate clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadRequirements(path)
			if err != nil {
				return err
			}
			client, ctx, cancel, err := frontendClient()
			if err != nil {
				return err
			}
			defer cancel()

			if err := client.RegisterOrUpdate(ctx, reqs); err != nil {
				return err
			}
			candidates, err := client.ListClusters(ctx)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(candidates, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to the requirements JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}

// frontendClient builds an authenticated one-shot Cognit Frontend client.
func frontendClient() (*cognitfc.Client, context.Context, context.CancelFunc, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client := cognitfc.New(cfg.Frontend, faas.NewParser(), uploadcache.New(cache.NewInMemoryCache()))
	if client.Authenticate(ctx) == "" {
		cancel()
		return nil, nil, nil, fmt.Errorf("authentication against %s failed", cfg.Frontend.Endpoint)
	}
	return client, ctx, cancel, nil
}
