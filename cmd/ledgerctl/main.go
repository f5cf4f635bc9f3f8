// Command ledgerctl drives a running poll ledger server over HTTP.
package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type options struct {
	server   string
	identity string
}

func (o *options) client() *Client { return NewClient(o.server, o.identity) }

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Create polls, add candidates and cast votes against a poll ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	server := os.Getenv("LEDGER_SERVER")
	if server == "" {
		server = "http://localhost:8090"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "ledger server base URL")
	root.PersistentFlags().StringVarP(&opts.identity, "identity", "i", os.Getenv("LEDGER_IDENTITY"), "caller identity sent as X-Identity")

	root.AddCommand(newPollCmd(opts), newCandidateCmd(opts), newVoteCmd(opts), newVoterCmd(opts), newProbeCmd(opts))
	return root
}

func parsePollID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid poll id %q", s)
	}
	return id, nil
}

func newTable(cmd *cobra.Command, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

func newPollCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "poll", Short: "Manage polls"}

	var (
		id          uint64
		description string
		start, end  uint64
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Initialize a poll",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := opts.client().CreatePoll(cmd.Context(), id, description, start, end)
			if err != nil {
				return err
			}
			printPoll(cmd, v.PollID, v.Description, v.PollStart, v.PollEnd, v.CandidateAmount, v.TotalVotes, v.Address.String())
			return nil
		},
	}
	create.Flags().Uint64Var(&id, "id", 0, "poll id")
	create.Flags().StringVarP(&description, "description", "d", "", "poll description")
	create.Flags().Uint64Var(&start, "start", 0, "poll start (unix seconds)")
	create.Flags().Uint64Var(&end, "end", 0, "poll end (unix seconds)")
	_ = create.MarkFlagRequired("id")
	_ = create.MarkFlagRequired("start")
	_ = create.MarkFlagRequired("end")

	show := &cobra.Command{
		Use:   "show POLL_ID",
		Short: "Show a poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			v, err := opts.client().Poll(cmd.Context(), pollID)
			if err != nil {
				return err
			}
			printPoll(cmd, v.PollID, v.Description, v.PollStart, v.PollEnd, v.CandidateAmount, v.TotalVotes, v.Address.String())
			return nil
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

func printPoll(cmd *cobra.Command, id uint64, desc string, start, end, candidates, votes uint64, addr string) {
	table := newTable(cmd, "Poll", "Description", "Start", "End", "Candidates", "Votes", "Address")
	table.Append([]string{u(id), desc, u(start), u(end), u(candidates), u(votes), addr})
	table.Render()
}

func newCandidateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "candidate", Short: "Manage candidates"}

	run := func(add bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			c := opts.client()
			fetch := c.Candidate
			if add {
				fetch = c.AddCandidate
			}
			v, err := fetch(cmd.Context(), pollID, args[1])
			if err != nil {
				return err
			}
			table := newTable(cmd, "Poll", "Candidate", "Votes", "Candidates In Poll", "Address")
			table.Append([]string{u(v.PollID), v.CandidateName, u(v.CandidateVotes), u(v.CandidateAmount), v.Address.String()})
			table.Render()
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "add POLL_ID NAME", Short: "Register a candidate", Args: cobra.ExactArgs(2), RunE: run(true)},
		&cobra.Command{Use: "show POLL_ID NAME", Short: "Show a candidate", Args: cobra.ExactArgs(2), RunE: run(false)},
	)
	return cmd
}

func newVoteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "vote POLL_ID CANDIDATE",
		Short: "Cast the caller's vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			r, err := opts.client().Vote(cmd.Context(), pollID, args[1])
			if err != nil {
				return err
			}
			table := newTable(cmd, "Poll", "Voter", "Candidate", "Candidate Votes", "Total Votes")
			table.Append([]string{u(r.PollID), r.Voter, r.CandidateName, u(r.CandidateVotes), u(r.TotalVotes)})
			table.Render()
			return nil
		},
	}
}

func newVoterCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "voter", Short: "Inspect voter records"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show POLL_ID IDENTITY",
		Short: "Show whether IDENTITY has voted in a poll",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			v, err := opts.client().VoterRecord(cmd.Context(), pollID, args[1])
			if err != nil {
				return err
			}
			table := newTable(cmd, "Poll", "Voter", "Voted", "Address")
			table.Append([]string{u(v.PollID), v.Voter, strconv.FormatBool(v.Voted), v.Address.String()})
			table.Render()
			return nil
		},
	})
	return cmd
}

// probeResult tallies one probe run by outcome.
type probeResult struct {
	Accepted int64
	Rejected map[string]int64
}

func newProbeCmd(opts *options) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "probe POLL_ID CANDIDATE",
		Short: "Fire N concurrent votes as one identity; exactly one should be accepted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			started := time.Now()
			res := probe(cmd, opts.client(), pollID, args[1], n)

			table := newTable(cmd, "Outcome", "Count")
			table.Append([]string{"Accepted", strconv.FormatInt(res.Accepted, 10)})
			for kind, count := range res.Rejected {
				table.Append([]string{kind, strconv.FormatInt(count, 10)})
			}
			table.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d requests in %v\n", n, time.Since(started).Round(time.Millisecond))

			if res.Accepted != 1 {
				return errors.Errorf("expected exactly one accepted vote, got %d", res.Accepted)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "concurrency", "n", 20, "number of concurrent votes")
	return cmd
}

func probe(cmd *cobra.Command, c *Client, pollID uint64, name string, n int) probeResult {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted atomic.Int64
		rejected = map[string]int64{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Vote(cmd.Context(), pollID, name)
			if err == nil {
				accepted.Add(1)
				return
			}
			kind := "Error"
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				kind = apiErr.Kind
			}
			mu.Lock()
			rejected[kind]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return probeResult{Accepted: accepted.Load(), Rejected: rejected}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}
