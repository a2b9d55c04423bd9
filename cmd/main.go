package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/tidwall/pretty"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/heyboss/internal/classify"
	"github.com/davidbz/heyboss/internal/config"
	"github.com/davidbz/heyboss/internal/domain"
	"github.com/davidbz/heyboss/internal/http"
	"github.com/davidbz/heyboss/internal/http/middleware"
	"github.com/davidbz/heyboss/internal/metrics"
	"github.com/davidbz/heyboss/internal/observability"
	"github.com/davidbz/heyboss/internal/provider/gateway"
	"github.com/davidbz/heyboss/internal/sse"
	"github.com/davidbz/heyboss/internal/transport"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	shutdownTimeout = 10 * time.Second
)

const usage = `usage:
  heyboss run -model MODEL [-inputs JSON] [-stream] [-output PATH] [-no-fallback]
  heyboss serve
`

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:], stdout, stderr)
	case "serve":
		return serveCommand(stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return exitUsage
	}
}

type runFlags struct {
	model      string
	inputs     string
	stream     bool
	output     string
	noFallback bool
}

func parseRunFlags(args []string, stderr io.Writer) (*domain.Request, error) {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.model, "model", "", "Model identifier")
	fs.StringVar(&f.inputs, "inputs", "{}", "Model inputs as a JSON object")
	fs.BoolVar(&f.stream, "stream", false, "Stream server-sent events")
	fs.StringVar(&f.output, "output", "", "Save the result to this path")
	fs.BoolVar(&f.noFallback, "no-fallback", false, "Disable automatic provider fallback")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var inputs map[string]any
	if err := json.Unmarshal([]byte(f.inputs), &inputs); err != nil {
		return nil, fmt.Errorf("invalid -inputs: %w", err)
	}

	fallback := !f.noFallback
	return &domain.Request{
		Model:        f.model,
		Inputs:       inputs,
		Stream:       f.stream,
		OutputPath:   f.output,
		AutoFallback: &fallback,
	}, nil
}

func runCommand(args []string, stdout, stderr io.Writer) int {
	req, err := parseRunFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container := buildContainer()
	err = container.Invoke(func(logger *zap.Logger, dispatcher *domain.Dispatcher) error {
		defer func() { _ = logger.Sync() }()

		result, dispatchErr := dispatcher.Dispatch(ctx, req)
		if dispatchErr != nil {
			return dispatchErr
		}
		return printResult(stdout, result)
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", dig.RootCause(err))
		return exitError
	}
	return exitOK
}

func printResult(w io.Writer, result *domain.Result) error {
	switch result.Mode {
	case domain.ModeStream:
		defer result.Events.Close()
		for result.Events.Next() {
			if _, err := fmt.Fprintf(w, "%s\n", result.Events.Event().Data); err != nil {
				return err
			}
		}
		return result.Events.Err()

	case domain.ModeOutput:
		data, err := json.Marshal(result.Outcome)
		if err != nil {
			return fmt.Errorf("failed to encode outcome: %w", err)
		}
		return writeJSON(w, data)

	default:
		return writeJSON(w, result.JSON)
	}
}

// writeJSON prints data, indented and coloured when w is a terminal.
func writeJSON(w io.Writer, data []byte) error {
	if isTerminal(w) {
		_, err := w.Write(pretty.Color(pretty.Pretty(data), nil))
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n", data)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func serveCommand(stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container := buildContainer()
	err := container.Invoke(func(logger *zap.Logger, server *http.Server) error {
		defer func() { _ = logger.Sync() }()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case startErr := <-errCh:
			return startErr
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", dig.RootCause(err))
		return exitError
	}
	return exitOK
}

func buildContainer() *dig.Container {
	container := dig.New()

	provide := func(name string, constructor interface{}, opts ...dig.ProvideOption) {
		if err := container.Provide(constructor, opts...); err != nil {
			log.Fatalf("Failed to provide %s: %v", name, err)
		}
	}

	// Configuration
	provide("config", config.Load)
	provide("config dependencies", config.ParseDependenciesConfig)

	// Observability
	provide("logger", observability.InitLogger)
	provide("metrics collector", metrics.NewCollector)
	provide("event bus", func(collector *metrics.Collector) domain.EventPublisher {
		return observability.NewEventBus(collector)
	})

	// Adapters
	provide("transport", transport.NewClient, dig.As(new(domain.Transport)))
	provide("gateway client", gateway.NewClient, dig.As(new(domain.Gateway)))
	provide("stream decoder", sse.NewDecoder, dig.As(new(domain.StreamDecoder)))
	provide("classifier", classify.NewClassifier, dig.As(new(domain.Classifier)))
	provide("materializer", classify.NewMaterializer, dig.As(new(domain.Materializer)))

	// Domain Services
	provide("dispatcher", domain.NewDispatcher)

	// HTTP Layer
	provide("middleware chain", middleware.BuildMiddlewareChain)
	provide("HTTP handler", http.NewHandler)
	provide("HTTP server", http.NewServer)

	return container
}
