// Command healthcheck checks the relay's long-poll endpoint with HEAD, which
// never drains the queue. It exits 0 when the endpoint answers 204 or 200.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/onnwee/chat-relay/server"
)

func main() {
	target, err := targetURL(os.Getenv)
	if err != nil {
		log.Printf("healthcheck: %v", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := check(ctx, &http.Client{}, target); err != nil {
		log.Printf("healthcheck: %v", err)
		os.Exit(1)
	}
}

// targetURL resolves the URL to check: HEALTHCHECK_URL, else the poll
// endpoint derived from HTTP_ENDPOINT and HTTP_PATH_PREFIX.
func targetURL(getenv func(string) string) (string, error) {
	if u := getenv("HEALTHCHECK_URL"); u != "" {
		return u, nil
	}
	endpoint := getenv("HTTP_ENDPOINT")
	if endpoint == "" {
		return "", errors.New("HTTP_ENDPOINT not set")
	}
	host, port, err := server.ParseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + server.NormalizePrefix(getenv("HTTP_PATH_PREFIX")), nil
}

func check(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
