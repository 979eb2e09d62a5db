// Command example connects to a Bilibili live room and prints decoded
// commands as they arrive, reconnecting with exponential backoff whenever
// the stream ends. It is a thin demonstration of liveroom.Connect plus the
// bootstrap/bilibili collaborator — it is not part of the protocol engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/suzuran-dev/liveroom"
	"github.com/suzuran-dev/liveroom/bootstrap/bilibili"
)

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 2 * time.Minute
)

func main() {
	roomID := flag.Uint64("room", 510, "Bilibili live room ID")
	sessdata := flag.String("sessdata", "", "SESSDATA cookie (optional, required to resolve UserID/Fingerprint)")
	biliJCT := flag.String("bili-jct", "", "bili_jct cookie (optional, required to send chat)")
	message := flag.String("send", "", "if set, send this chat message and exit without opening a live connection")
	flag.Parse()

	slog.Info("starting", "room", *roomID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cookies := ""
	if *sessdata != "" {
		cookies = "SESSDATA=" + *sessdata
	}
	bootstrapper := bilibili.New(bilibili.WithCookie(cookies))

	if *message != "" {
		if err := sendOnce(ctx, bootstrapper, *roomID, *sessdata, *biliJCT, *message); err != nil {
			slog.Error("send failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, bootstrapper, *roomID); err != nil && ctx.Err() == nil {
		slog.Error("stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func sendOnce(ctx context.Context, bs *bilibili.Client, roomID uint64, sessdata, biliJCT, message string) error {
	realRoomID, err := bs.RoomID(ctx, roomID)
	if err != nil {
		return err
	}
	sender := bilibili.NewSender(bilibili.WithSenderCookie(sessdata, biliJCT))
	return sender.Send(ctx, realRoomID, message)
}

// run drives one room for the life of ctx, reconnecting with exponential
// backoff whenever the stream ends, whether with an error or with a
// graceful close. Once ctx is cancelled it returns nil.
func run(ctx context.Context, bs *bilibili.Client, roomID uint64) error {
	var attempt int
	for {
		err := connectAndDrain(ctx, bs, roomID)
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		delay := backoff(attempt)
		slog.Warn("disconnected, reconnecting", "room", roomID, "error", err, "attempt", attempt, "backoff", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func connectAndDrain(ctx context.Context, bs *bilibili.Client, roomID uint64) error {
	in, err := bs.ResolveInputs(ctx, roomID, liveroom.PreferBrotli)
	if err != nil {
		return fmt.Errorf("resolve bootstrap inputs: %w", err)
	}

	conn, err := liveroom.Connect(ctx, in, bilibili.DecodeEvent)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	slog.Info("connected", "room", in.RoomID, "uid", in.UserID)

	for {
		cmd, ok, err := conn.Recv(ctx)
		if !ok {
			return err
		}
		printEvent(cmd)
	}
}

func printEvent(cmd liveroom.Command[bilibili.Event]) {
	if !cmd.Known {
		return
	}
	switch {
	case cmd.Value.ChatMessage != nil:
		m := cmd.Value.ChatMessage
		fmt.Printf("[chat] %s: %s\n", m.Name, m.Text)
	case cmd.Value.Gift != nil:
		g := cmd.Value.Gift
		fmt.Printf("[gift] %s sent %s x%d\n", g.Sender, g.Name, g.Num)
	}
}

func backoff(attempt int) time.Duration {
	d := baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
