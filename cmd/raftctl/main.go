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

// raftctl is a command line client for raftd.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raftkit/raftkit/server"
)

const (
	cliName        = "raftctl"
	cliDescription = "A simple command line client for raftd."

	defaultCommandTimeout = 5 * time.Second
)

// ExitError codes.
const (
	ExitSuccess = iota
	ExitError
	ExitBadArgs
)

type globalFlags struct {
	endpoints      []string
	commandTimeout time.Duration
	writeOut       string
}

func newRootCommand() *cobra.Command {
	gf := &globalFlags{}
	root := &cobra.Command{
		Use:          cliName,
		Short:         cliDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&gf.endpoints, "endpoints", []string{"http://127.0.0.1:2379"}, "raftd client URLs")
	root.PersistentFlags().DurationVar(&gf.commandTimeout, "command-timeout", defaultCommandTimeout, "timeout for each command")
	root.PersistentFlags().StringVarP(&gf.writeOut, "write-out", "w", "simple", "set the output format (simple, json, table)")

	root.AddCommand(
		newPutCommand(gf),
		newGetCommand(gf),
		newDelCommand(gf),
		newListCommand(gf),
		newStatusCommand(gf),
	)
	return root
}

// client talks to the first reachable endpoint. The http.Client follows the
// redirects followers answer writes with.
type client struct {
	endpoints []string
	hc        *http.Client
}

func newClient(gf *globalFlags) *client {
	return &client{endpoints: gf.endpoints, hc: &http.Client{}}
}

// do sends the request to each endpoint in turn until one answers, and
// decodes a 2xx body into out.
func (c *client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var errs []error
	for _, ep := range c.endpoints {
		err := c.doEndpoint(ctx, ep, method, path, body, out)
		if err == nil {
			return nil
		}
		var he *httpError
		if errors.As(err, &he) || ctx.Err() != nil {
			return err
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no endpoint reachable: %w", errors.Join(errs...))
}

func (c *client) doEndpoint(ctx context.Context, ep, method, path string, body []byte, out any) error {
	return c.doURL(ctx, strings.TrimRight(ep, "/")+path, method, body, out)
}

func (c *client) doURL(ctx context.Context, u, method string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var er server.ErrorResponse
		if json.Unmarshal(b, &er) != nil || er.Message == "" {
			er.Message = strings.TrimSpace(string(b))
		}
		return &httpError{Code: resp.StatusCode, Message: er.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

type httpError struct {
	Code    int
	Message string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s: %s", http.StatusText(e.Code), e.Message)
}

func keyPath(key string) string {
	segs := strings.Split(key, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return "/kv/" + strings.Join(segs, "/")
}

func commandCtx(gf *globalFlags) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), gf.commandTimeout)
}

func exitWithError(code int, err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(code)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		var he *httpError
		if errors.As(err, &he) && he.Code == http.StatusBadRequest {
			exitWithError(ExitBadArgs, err)
		}
		exitWithError(ExitError, err)
	}
}

func joinSorted(ss []string) string {
	sort.Strings(ss)
	return strings.Join(ss, ", ")
}
