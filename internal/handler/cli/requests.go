package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/spf13/cobra"
)

func newRequestsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "Browse and act on HR requests"}
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newShowCmd(a))
	cmd.AddCommand(newDecideCmd(a, request.ActionApprove))
	cmd.AddCommand(newDecideCmd(a, request.ActionReject))
	cmd.AddCommand(newCancelCmd(a))
	cmd.AddCommand(newBreakdownCmd(a))
	return cmd
}

func viewFor(assigned bool) request.View {
	if assigned {
		return request.ViewAssigned
	}
	return request.ViewMine
}

func newListCmd(a *app) *cobra.Command {
	var assigned, asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your requests, or the ones waiting on you with --assigned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.requests.List(cmd.Context(), viewFor(assigned))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list.Requests) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No requests")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSUBMITTED BY\tSTATUS\tACTION")
			for _, r := range list.Requests {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, typeLabel(r.Request), submitter(r.Request), r.OverallStatus, actionLabel(r))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&assigned, "assigned", false, "Show requests assigned to you")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var assigned, asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one request and its approval stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.requests.Get(cmd.Context(), args[0], viewFor(assigned))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), r)
			}
			printRequest(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&assigned, "assigned", false, "Evaluate actions from the assigned view")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newDecideCmd(a *app, action request.Action) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   string(action) + " <id>",
		Short: fmt.Sprintf("%s a request waiting on you", capitalize(string(action))),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.requests.Decide(cmd.Context(), args[0], request.ViewAssigned, request.DecisionRequest{
				Action: string(action),
				Reason: reason,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s updated (overall status: %s)\n", r.ID, r.OverallStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Optional note sent with the decision")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel one of your own pending requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.requests.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s cancelled (overall status: %s)\n", r.ID, r.OverallStatus)
			return nil
		},
	}
}

func newBreakdownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "breakdown",
		Short: "Count requests by overall status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.requests.Breakdown(cmd.Context())
			if !b.Available {
				fmt.Fprintln(cmd.OutOrStdout(), "Breakdown unavailable right now")
				return nil
			}

			keys := make([]string, 0, len(b.Counts))
			for k := range b.Counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%d\n", k, b.Counts[k])
			}
			return tw.Flush()
		},
	}
}

func newPolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the approval routing table",
		Args:  cobra.NoArgs,
		// policy is local and needs no session store
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tACTS ON\tWHEN\tTYPES")
			for _, rule := range a.resolver.Rules() {
				when := ""
				for i, c := range rule.When {
					if i > 0 {
						when += ", "
					}
					when += fmt.Sprintf("%s=%s", c.Field, c.Status)
				}
				types := ""
				for i, t := range rule.Types {
					if i > 0 {
						types += ","
					}
					types += string(t)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rule.Role, rule.Acts, when, types)
			}
			return tw.Flush()
		},
	}
}

func printRequest(w io.Writer, r request.RequestResponse) {
	fmt.Fprintf(w, "Request %s (%s)\n", r.ID, typeLabel(r.Request))
	fmt.Fprintf(w, "  submitted by: %s\n", submitter(r.Request))
	if r.CreatedAt != "" {
		fmt.Fprintf(w, "  created:      %s\n", r.CreatedAt)
	}
	fmt.Fprintf(w, "  overall:      %s\n", r.OverallStatus)
	for _, f := range request.StageFields() {
		if v := r.Stage(f); v != "" {
			fmt.Fprintf(w, "  %-27s %s\n", string(f)+":", v)
		}
	}
	fmt.Fprintf(w, "  action:       %s\n", actionLabel(r))
}

func typeLabel(r request.Request) string {
	if t, ok := r.Type(); ok {
		return string(t)
	}
	return r.RequestType
}

func submitter(r request.Request) string {
	if r.User == nil || r.User.Name == "" {
		return "-"
	}
	return r.User.Name
}

func actionLabel(r request.RequestResponse) string {
	switch {
	case r.CanAct:
		return "decide " + string(r.ActionField)
	case r.CanCancel:
		return "cancel"
	default:
		return "-"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
