package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

func buildPipelineCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run and inspect the rule-upgrade pipeline",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one mining, generation, and regression cycle now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "POST", "/pipeline/run", nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
		&cobra.Command{
			Use:   "last",
			Short: "Show the report of the most recent cycle",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "GET", "/pipeline/last", nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
	)
	return cmd
}

func buildPatchCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "Inspect rule patches",
	}

	var status string
	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List rule patches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if page > 0 {
				q.Set("page", strconv.Itoa(page))
			}
			if pageSize > 0 {
				q.Set("page_size", strconv.Itoa(pageSize))
			}
			data, err := g.client().do(cmd.Context(), "GET", "/patches", q, nil)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (candidate, testing, approved, rejected, canary, deployed, rolled_back)")
	list.Flags().IntVar(&page, "page", 0, "page number")
	list.Flags().IntVar(&pageSize, "page-size", 0, "page size")

	get := &cobra.Command{
		Use:   "get <patch-id>",
		Short: "Show one rule patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := g.client().do(cmd.Context(), "GET", "/patches/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func buildVersionCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Inspect rule versions and deployment history",
	}

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show deployment history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			data, err := g.client().do(cmd.Context(), "GET", "/versions/history", q, nil)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "maximum entries")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "active",
			Short: "Show the active rule version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "GET", "/versions/active", nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
		history,
	)
	return cmd
}

func buildDeploymentCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "Manage canary deployments",
	}

	var fraction float64
	var monitor bool
	canary := &cobra.Command{
		Use:   "canary <patch-id>",
		Short: "Deploy an approved patch to a canary slice of traffic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"patch_id": args[0], "fraction": fraction, "monitor": monitor}
			data, err := g.client().do(cmd.Context(), "POST", "/deployments/canary", nil, body)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	canary.Flags().Float64Var(&fraction, "fraction", 0, "traffic fraction in (0,1]; 0 uses the service default")
	canary.Flags().BoolVar(&monitor, "monitor", true, "start monitoring the canary immediately")

	rollbackTo := &cobra.Command{
		Use:   "rollback-to <version>",
		Short: "Roll back every patch introduced after a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			data, err := g.client().do(cmd.Context(), "POST", "/deployments/rollback-to", nil, map[string]int64{"version": v})
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}

	action := func(use, short, verb string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <deployment-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := "/deployments/" + url.PathEscape(args[0]) + "/" + verb
				data, err := g.client().do(cmd.Context(), "POST", path, nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "current",
			Short: "Show the canary in flight and the routing halt flag",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "GET", "/deployments/canary", nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
		canary,
		action("monitor", "Evaluate the canary for one window", "monitor"),
		action("promote", "Promote a healthy canary to full deployment", "promote"),
		action("rollback", "Roll back a deployment", "rollback"),
		rollbackTo,
		&cobra.Command{
			Use:   "clear-halt",
			Short: "Resume routing after a failed rollback was repaired",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "DELETE", "/deployments/halt", nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
	)
	return cmd
}

func buildLogCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect grading logs and record overrides",
	}

	var score float64
	var reason, actor string
	override := &cobra.Command{
		Use:   "override <log-id>",
		Short: "Record a human correction of a logged score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"score": score, "reason": reason, "actor": actor}
			data, err := g.client().do(cmd.Context(), "POST", "/logs/"+url.PathEscape(args[0])+"/override", nil, body)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	override.Flags().Float64Var(&score, "score", 0, "corrected score")
	override.Flags().StringVar(&reason, "reason", "", "why the score was wrong")
	override.Flags().StringVar(&actor, "actor", os.Getenv("USER"), "who made the correction (replaced by the token identity when auth is on)")
	override.MarkFlagRequired("score")
	override.MarkFlagRequired("reason")

	simple := func(use, short, method, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), method, path, nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <log-id>",
			Short: "Show one grading log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "GET", "/logs/"+url.PathEscape(args[0]), nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
		override,
		simple("pending", "Show how many logs await a durable write", "GET", "/logs/pending"),
		simple("flush", "Retry every pending log write now", "POST", "/logs/flush"),
	)
	return cmd
}

func buildRegressionCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regression",
		Short: "Run regression tests and manage evaluation sets",
	}

	var evalSet string
	run := &cobra.Command{
		Use:   "run <patch-id>",
		Short: "Replay an evaluation set under a candidate patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"patch_id": args[0], "eval_set_id": evalSet}
			data, err := g.client().do(cmd.Context(), "POST", "/regression/run", nil, body)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	run.Flags().StringVar(&evalSet, "eval-set", "default", "evaluation set id")

	upload := &cobra.Command{
		Use:   "upload-evalset <file.json>",
		Short: "Freeze an evaluation set from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			data, err := g.client().send(cmd.Context(), "POST", "/regression/evalsets", f, "application/json")
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}

	cmd.AddCommand(
		run,
		upload,
		&cobra.Command{
			Use:   "result <patch-id>",
			Short: "Show the recorded regression result of a patch",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := g.client().do(cmd.Context(), "GET", "/regression/"+url.PathEscape(args[0]), nil, nil)
				if err != nil {
					return err
				}
				return g.print(data)
			},
		},
	)
	return cmd
}

func buildStorageCommands(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Move page images and documents in and out of blob storage",
	}

	var contentType string
	put := &cobra.Command{
		Use:   "put <key> <file>",
		Short: "Store a file under a key, for grading by page_keys",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			data, err := g.client().send(cmd.Context(), "PUT", "/storage/"+filepath.ToSlash(args[0]), f, contentType)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	put.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "blob content type")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Write a stored blob to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := g.client().do(cmd.Context(), "GET", "/storage/"+filepath.ToSlash(args[0]), nil, nil)
			if err != nil {
				return err
			}
			_, err = g.out.Write(data)
			return err
		},
	}

	cmd.AddCommand(put, get)
	return cmd
}

func buildProgressCommands(g *globals) *cobra.Command {
	var after int64
	cmd := &cobra.Command{
		Use:   "progress <stream-id>",
		Short: "Show batch progress events of a grading stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if after > 0 {
				q.Set("after", strconv.FormatInt(after, 10))
			}
			data, err := g.client().do(cmd.Context(), "GET", "/progress/"+url.PathEscape(args[0]), q, nil)
			if err != nil {
				return err
			}
			return g.print(data)
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "resume after this sequence number")
	return cmd
}
