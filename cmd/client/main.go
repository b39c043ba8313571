// Command client is a headless player. It creates a game or joins one by
// invite code and then wanders the map until the other player leaves.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/engine"
	"github.com/lrnzgll/subprime-shutdown/internal/logging"
	"github.com/lrnzgll/subprime-shutdown/pkg/client"
	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

func main() {
	host := flag.String("host", "localhost", "server host")
	port := flag.Int("port", 8080, "server port; 443 uses TLS")
	code := flag.String("join", "", "invite code to join; empty creates a game")
	name := flag.String("name", "", "player name")
	tick := flag.Duration("tick", 100*time.Millisecond, "game loop interval")
	dev := flag.Bool("log-dev", true, "human readable logs")
	flag.Parse()

	log, err := logging.New("info", *dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := play(ctx, log, *host, *port, *code, *name, *tick); err != nil {
		log.Fatal("client stopped", zap.Error(err))
	}
}

func play(ctx context.Context, log *zap.Logger, host string, port int, code, name string, tick time.Duration) error {
	c, err := client.Connect(ctx, host, port, client.WithLogger(log))
	if err != nil {
		return err
	}
	defer c.Close()

	if code == "" {
		code, err = c.CreateGame(name)
		if err != nil {
			return err
		}
		log.Info("share this invite code", zap.String("invite_code", code))
	} else if err := c.JoinGame(code, name); err != nil {
		return err
	}

	if err := c.WaitForGameStart(); err != nil {
		return err
	}

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		if err := c.ProcessUpdates(); err != nil {
			if errors.Is(err, client.ErrPeerDisconnected) {
				log.Info("game over", zap.Error(err))
				return nil
			}
			return err
		}

		me, ok := c.Self()
		if !ok || !me.Alive() {
			continue
		}
		if err := c.SendGameAction(wander(me)); err != nil {
			return err
		}
	}
}

// wander takes one step, turning at random and at the map edges.
func wander(p protocol.PlayerState) protocol.PlayerState {
	if rand.IntN(8) == 0 {
		p.Direction = protocol.Direction(rand.IntN(4))
	}
	x, y := p.X, p.Y
	switch p.Direction {
	case protocol.DirectionUp:
		y--
	case protocol.DirectionDown:
		y++
	case protocol.DirectionLeft:
		x--
	case protocol.DirectionRight:
		x++
	}
	if x < 1 || x >= engine.MapWidth-1 || y < 1 || y >= engine.MapHeight-1 {
		p.Direction = (p.Direction + 2) % 4
		return p
	}
	p.X, p.Y = x, y
	return p
}
