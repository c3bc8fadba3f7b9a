// Command viewer-tail connects to a running blockview viewer stream and
// logs each snapshot, for checking the stream without a graphical viewer.
//
// Usage:
//
//	go run ./cmd/tools/viewer-tail [-addr localhost:50061] [-geometry]
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/blockview/internal/viewer"
)

func main() {
	addr := flag.String("addr", "localhost:50061", "Viewer stream address")
	geometry := flag.Bool("geometry", false, "Request batch positions in full snapshots")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(*addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(16<<20)),
	)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	stream, err := viewer.NewClient(conn).StreamScene(ctx, viewer.StreamRequest{
		ClientName:      "viewer-tail",
		IncludeGeometry: *geometry,
	})
	if err != nil {
		log.Fatalf("failed to open stream: %v", err)
	}

	for {
		snap, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Fatalf("stream error: %v", err)
		}
		if !snap.Full {
			continue
		}
		instances := 0
		for _, b := range snap.Batches {
			instances += b.Instances()
		}
		log.Printf("seq=%d root=%s kind=%s viewport=%dx%d batches=%d instances=%d",
			snap.Seq, snap.RootID, snap.RootKind, snap.Width, snap.Height, len(snap.Batches), instances)
	}
}
