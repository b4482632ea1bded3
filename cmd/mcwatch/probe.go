package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/probe"
)

var errUnreachable = errors.New("server unreachable")

type probeOutput struct {
	Host      string                `json:"host"`
	Port      int                   `json:"port"`
	Protocol  domain.ProtocolKind   `json:"type"`
	Reachable bool                  `json:"reachable"`
	Reading   *domain.StatusReading `json:"reading,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func probeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <address> [java|bedrock]",
		Short: "Query one server once and print its status as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			protocol := ""
			if len(args) == 2 {
				protocol = args[1]
			}
			kind, err := domain.ParseProtocol(protocol)
			if err != nil {
				return err
			}
			addr, err := domain.ParseAddress(args[0], kind)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			reading, probeErr := probe.New().Probe(ctx, addr, kind)

			out := probeOutput{Host: addr.Host, Port: addr.Port, Protocol: kind}
			if probeErr != nil {
				out.Error = probeErr.Error()
			} else {
				out.Reachable = true
				out.Reading = reading
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Reachable {
				return errUnreachable
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", probe.DefaultTimeout, "Probe timeout")
	return cmd
}
