package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	grpcapi "github.com/kennethnrk/echo/internal/api/grpc"
	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/controller/training"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: echoctl [-addr host:port] <command> [args]

Commands:
  train <project>                       train a project and stream progress
  predict [-project id] [-resolve] <input>
  load <project>                        activate a project's saved model
  status                                show server status
`)
}

func main() {
	addr := flag.String("addr", "localhost:50051", "The address of echo-server")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	client, conn, err := grpcapi.Dial(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	args := flag.Args()
	switch args[0] {
	case "train":
		err = runTrain(ctx, client, args[1:])
	case "predict":
		err = runPredict(ctx, client, args[1:])
	case "load":
		err = runLoad(ctx, client, args[1:])
	case "status":
		err = runStatus(ctx, client)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func runTrain(ctx context.Context, client *grpcapi.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: echoctl train <project>")
	}
	return client.Train(ctx, args[0], func(ev training.Event) {
		switch ev.Status {
		case constants.RunStatusTraining:
			if ev.Progress != nil {
				fmt.Printf("\rtraining %3d%%", *ev.Progress)
			}
		case constants.RunStatusFailed:
			fmt.Printf("\nfailed: %s\n", ev.Error)
		default:
			fmt.Printf("\n%s", ev.Status)
			if ev.Status == constants.RunStatusCompleted {
				fmt.Println()
			}
		}
	})
}

func runPredict(ctx context.Context, client *grpcapi.Client, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	project := fs.String("project", "", "Project to load before predicting (defaults to the active model)")
	resolve := fs.Bool("resolve", true, "Resolve random choices and transforms")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: echoctl predict [-project id] [-resolve] <input>")
	}

	res, err := client.Predict(ctx, *project, strings.Join(fs.Args(), " "), *resolve)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runLoad(ctx context.Context, client *grpcapi.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: echoctl load <project>")
	}
	if err := client.Load(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("loaded %s\n", args[0])
	return nil
}

func runStatus(ctx context.Context, client *grpcapi.Client) error {
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
