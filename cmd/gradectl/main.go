// Command gradectl is the operator CLI for a running GradeOS service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var Version = "dev"

type globals struct {
	server  string
	token   string
	timeout time.Duration
	out     io.Writer
}

func (g *globals) client() *client {
	return newClient(g.server+"/api", g.token, g.timeout)
}

// print pretty-prints a JSON response body.
func (g *globals) print(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = g.out.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(g.out)
	return err
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globals{out: out}

	root := &cobra.Command{
		Use:           "gradectl",
		Short:         "Operate a GradeOS grading service",
		Long:          "gradectl drives the rule-evolution pipeline, canary deployments, and grading logs of a GradeOS service over its HTTP API.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.server, "server", envOr("GRADEOS_URL", "http://localhost:8080"), "service base URL")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("GRADEOS_TOKEN"), "bearer token for guarded routes")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		buildPipelineCommands(g),
		buildPatchCommands(g),
		buildVersionCommands(g),
		buildDeploymentCommands(g),
		buildLogCommands(g),
		buildRegressionCommands(g),
		buildStorageCommands(g),
		buildProgressCommands(g),
	)
	return root
}

func main() {
	ctx := context.Background()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
