// The thorctl binary is an operator's command-line client for the
// Thorium API: submitting reactions, fetching results, and managing
// samples, all over the same SDK the scaler/reactor/agent use (spec.md
// §6).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/engine"
)

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api-addr")
	token := os.Getenv("THORIUM_API_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "THORIUM_API_TOKEN must be set")
		os.Exit(1)
	}
	return client.New(addr, token)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	root := &cobra.Command{
		Use:   "thorctl",
		Short: "operate a Thorium cluster from the command line",
	}
	root.PersistentFlags().String("api-addr", os.Getenv("THORIUM_API_ADDR"), "Thorium API base URL")

	var group, pipeline, creator string
	reactCmd := &cobra.Command{
		Use:   "react",
		Short: "submit a new reaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			id, err := c.CreateReaction(cmd.Context(), engine.CreateRequest{
				Group:    group,
				Pipeline: pipeline,
				Creator:  creator,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	reactCmd.Flags().StringVar(&group, "group", "", "group to run the reaction under")
	reactCmd.Flags().StringVar(&pipeline, "pipeline", "", "pipeline to run")
	reactCmd.Flags().StringVar(&creator, "creator", "", "user submitting the reaction")
	reactCmd.MarkFlagRequired("group")
	reactCmd.MarkFlagRequired("pipeline")

	var kind, key string
	var groups, tools []string
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "fetch results for a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			results, err := c.GetResults(cmd.Context(), kind, key, groups, tools)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	resultsCmd.Flags().StringVar(&kind, "kind", "sample", "result kind")
	resultsCmd.Flags().StringVar(&key, "key", "", "result key (e.g. a sample sha256)")
	resultsCmd.Flags().StringSliceVar(&groups, "groups", nil, "groups visible to the caller")
	resultsCmd.Flags().StringSliceVar(&tools, "tools", nil, "filter to these tool names")
	resultsCmd.MarkFlagRequired("key")

	uploadCmd := &cobra.Command{
		Use:   "upload-sample <file>",
		Short: "upload a file as a content-addressed sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sha256, err := c.UploadSample(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Println(sha256)
			return nil
		},
	}

	root.AddCommand(reactCmd, resultsCmd, uploadCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
