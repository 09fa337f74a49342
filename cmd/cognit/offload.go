package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cognit "github.com/sovereignedge/cognit-device-runtime"
	"github.com/sovereignedge/cognit-device-runtime/internal/config"
	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
)

func newOffloadCmd() *cobra.Command {
	var (
		name     string
		lang     string
		fnPath   string
		reqsPath string
		params   []string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "offload",
		Short: "Offload one function call and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(fnPath)
			if err != nil {
				return fmt.Errorf("read function payload: %w", err)
			}
			reqs, err := loadRequirements(reqsPath)
			if err != nil {
				return err
			}

			var callParams []any
			for _, p := range params {
				var v any
				if err := json.Unmarshal([]byte(p), &v); err != nil {
					return fmt.Errorf("parameter %q is not valid JSON: %w", p, err)
				}
				callParams = append(callParams, v)
			}

			rt, err := newDeviceRuntime()
			if err != nil {
				return err
			}
			if !rt.Init(reqs) {
				return fmt.Errorf("runtime initialization failed")
			}
			defer rt.Stop()

			fn := &cognit.FaasFunction{
				Name:    name,
				Lang:    domain.FunctionLanguage(lang),
				Payload: payload,
			}
			result := rt.CallWithTimeout(fn, timeout, callParams...)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if result.RetCode != cognit.RetSuccess {
				return fmt.Errorf("offload failed: %s", result.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "function name")
	cmd.Flags().StringVar(&lang, "lang", string(domain.LangPY), "function language (PY or C)")
	cmd.Flags().StringVar(&fnPath, "function", "", "path to the serialized function payload")
	cmd.Flags().StringVar(&reqsPath, "requirements", "", "path to the requirements JSON file")
	cmd.Flags().StringArrayVar(&params, "param", nil, "call parameter as JSON (repeatable, in order)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-call execution deadline (0 = none)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("function")
	cmd.MarkFlagRequired("requirements")
	return cmd
}

func newDeviceRuntime() (*cognit.DeviceRuntime, error) {
	if configPath != "" {
		return cognit.NewFromFile(configPath)
	}
	return cognit.NewFromEnv(), nil
}

func loadRequirements(path string) (*cognit.Requirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requirements: %w", err)
	}
	var reqs cognit.Requirements
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	return &reqs, nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config.LoadFromEnv(cfg)
		return cfg, nil
	}
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)
	return cfg, nil
}
