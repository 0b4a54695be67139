package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/nkiryanov/blogpress/internal/service/apiclient"
)

// cliNavigator maps commands onto admin panel pages:
// running "login" means being on the login page
type cliNavigator struct {
	out io.Writer

	mu   sync.Mutex
	path string
}

func newCLINavigator(command string, out io.Writer) *cliNavigator {
	path := "/" + command
	if command == "login" {
		path = apiclient.LoginPath
	}
	return &cliNavigator{out: out, path: path}
}

func (n *cliNavigator) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *cliNavigator) Redirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.path = path
	if path == apiclient.LoginPath {
		_, _ = fmt.Fprintln(n.out, "Session expired, run 'blogctl login' to sign in again")
		return
	}
	_, _ = fmt.Fprintf(n.out, "Redirected to %s\n", path)
}
