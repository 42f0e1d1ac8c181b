package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/outlayer-net/cluster/pkg/utils"
)

func main() {
	var baseURL, authToken string

	rootCmd := &cobra.Command{Use: "outlayerctl", Short: "operate an outlayer cluster coordinator"}
	rootCmd.PersistentFlags().StringVar(&baseURL, "coordinator", utils.EnvOrDefault("OUTLAYERCTL_COORDINATOR_URL", "http://localhost:8080"), "coordinator base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", utils.EnvOrDefault("OUTLAYERCTL_TOKEN", ""), "admin bearer token")

	client := func() *adminClient { return &adminClient{baseURL: baseURL, authToken: authToken, http: &http.Client{Timeout: 10 * time.Second}} }

	rootCmd.AddCommand(apiKeysCmd(client))
	rootCmd.AddCommand(workersCmd(client))
	rootCmd.AddCommand(ingestCmd(client))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// adminClient is a thin wrapper over the coordinator's bearer-protected
// admin surface, grounded on the same pooled-client-plus-bearer-header
// pattern internal/worker.HTTPSecretsClient uses against the keystore.
type adminClient struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func (c *adminClient) do(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(out))
	}
	return out, nil
}

func apiKeysCmd(client func() *adminClient) *cobra.Command {
	cmd := &cobra.Command{Use: "api-keys", Short: "manage ingest API keys"}

	create := &cobra.Command{
		Use:   "create",
		Short: "create an API key for an owner account",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			label, _ := cmd.Flags().GetString("label")
			key, _ := cmd.Flags().GetString("key")
			out, err := client().do(http.MethodPost, "/admin/api_keys", map[string]string{"owner": owner, "label": label, "key": key})
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	create.Flags().String("owner", "", "owner account id")
	create.Flags().String("label", "", "human-readable label")
	create.Flags().String("key", "", "the raw API key value")
	cmd.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "list registered API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do(http.MethodGet, "/admin/api_keys", nil)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func workersCmd(client func() *adminClient) *cobra.Command {
	cmd := &cobra.Command{Use: "workers", Short: "inspect connected workers"}
	list := &cobra.Command{
		Use:   "list",
		Short: "list workers that have reported status recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do(http.MethodGet, "/admin/workers", nil)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func ingestCmd(client func() *adminClient) *cobra.Command {
	cmd := &cobra.Command{Use: "ingest", Short: "inspect the chain ingestor"}
	progress := &cobra.Command{
		Use:   "progress",
		Short: "show the last indexed block height",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do(http.MethodGet, "/admin/ingest_progress", nil)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.AddCommand(progress)
	return cmd
}
