// Copyright 2026 The raftkit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/raftkit/raftkit/kvstore"
	"github.com/raftkit/raftkit/server"
)

func newPutCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Puts the given key into the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandCtx(gf)
			defer cancel()
			var wr server.WriteResponse
			if err := newClient(gf).do(ctx, http.MethodPut, keyPath(args[0]), []byte(args[1]), &wr); err != nil {
				return err
			}
			return printWrite(cmd.OutOrStdout(), gf.writeOut, "OK", wr)
		},
	}
}

func newDelCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Removes the given key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandCtx(gf)
			defer cancel()
			var wr server.WriteResponse
			if err := newClient(gf).do(ctx, http.MethodDelete, keyPath(args[0]), nil, &wr); err != nil {
				return err
			}
			return printWrite(cmd.OutOrStdout(), gf.writeOut, "DELETED", wr)
		},
	}
}

func newGetCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Gets the key from the first reachable endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandCtx(gf)
			defer cancel()
			var kv kvstore.KeyValue
			if err := newClient(gf).do(ctx, http.MethodGet, keyPath(args[0]), nil, &kv); err != nil {
				return err
			}
			return printKVs(cmd.OutOrStdout(), gf.writeOut, []kvstore.KeyValue{kv})
		},
	}
}

func newListCommand(gf *globalFlags) *cobra.Command {
	var (
		from, to string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists keys in [from, to) in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandCtx(gf)
			defer cancel()
			q := url.Values{}
			q.Set("from", from)
			if to != "" {
				q.Set("to", to)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			var kvs []kvstore.KeyValue
			if err := newClient(gf).do(ctx, http.MethodGet, "/kv?"+q.Encode(), nil, &kvs); err != nil {
				return err
			}
			return printKVs(cmd.OutOrStdout(), gf.writeOut, kvs)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first key to list")
	cmd.Flags().StringVar(&to, "to", "", "key to stop before; empty lists to the end")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of keys; 0 is no limit")
	return cmd
}

// endpointStatus is one row of the status table.
type endpointStatus struct {
	Endpoint string                 `json:"endpoint"`
	Status   *server.StatusResponse `json:"status,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func newStatusCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the status of every endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(gf)
			sts := make([]endpointStatus, 0, len(gf.endpoints))
			for _, ep := range gf.endpoints {
				ctx, cancel := commandCtx(gf)
				var st server.StatusResponse
				err := c.doEndpoint(ctx, ep, http.MethodGet, "/status", nil, &st)
				cancel()
				es := endpointStatus{Endpoint: ep}
				if err != nil {
					es.Error = err.Error()
				} else {
					es.Status = &st
				}
				sts = append(sts, es)
			}
			return printStatus(cmd.OutOrStdout(), gf.writeOut, sts)
		},
	}
}

func printWrite(w io.Writer, format, word string, wr server.WriteResponse) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(wr)
	case "table":
		t := tablewriter.NewWriter(w)
		t.SetHeader([]string{"key", "index"})
		t.Append([]string{wr.Key, strconv.FormatUint(wr.Index, 10)})
		t.Render()
		return nil
	default:
		_, err := fmt.Fprintln(w, word)
		return err
	}
}

func printKVs(w io.Writer, format string, kvs []kvstore.KeyValue) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(kvs)
	case "table":
		t := tablewriter.NewWriter(w)
		t.SetHeader([]string{"key", "value", "mod index"})
		for _, kv := range kvs {
			t.Append([]string{kv.Key, kv.Value, strconv.FormatUint(kv.ModIndex, 10)})
		}
		t.Render()
		return nil
	default:
		for _, kv := range kvs {
			if _, err := fmt.Fprintf(w, "%s\n%s\n", kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	}
}

func printStatus(w io.Writer, format string, sts []endpointStatus) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(sts)
	}
	hdr := []string{"endpoint", "id", "version", "state", "term", "leader", "commit", "applied", "keys", "db size", "errors"}
	rows := make([][]string, 0, len(sts))
	for _, es := range sts {
		if es.Status == nil {
			rows = append(rows, []string{es.Endpoint, "", "", "", "", "", "", "", "", "", es.Error})
			continue
		}
		st := es.Status
		var unhealthy []string
		for id, p := range st.Peers {
			if !p.Healthy {
				unhealthy = append(unhealthy, id+" unreachable")
			}
		}
		rows = append(rows, []string{
			es.Endpoint,
			st.ID,
			st.Version,
			st.RaftState.String(),
			strconv.FormatUint(st.Term, 10),
			st.Lead,
			strconv.FormatUint(st.Commit, 10),
			strconv.FormatUint(st.KVApplied, 10),
			strconv.Itoa(st.Keys),
			st.DBSizeText,
			joinSorted(unhealthy),
		})
	}
	t := tablewriter.NewWriter(w)
	t.SetHeader(hdr)
	t.AppendBulk(rows)
	t.Render()
	return nil
}
