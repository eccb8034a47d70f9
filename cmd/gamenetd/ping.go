package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
	"github.com/cyberinferno/gamenet/tcpclient"
)

type pingOptions struct {
	count     int
	interval  time.Duration
	timeout   time.Duration
	redisAddr string
}

func pingCmd() *cobra.Command {
	opts := pingOptions{}

	cmd := &cobra.Command{
		Use:   "ping <host:port>",
		Short: "Send framed PING packets to a server and report round trips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.count, "count", "c", 3, "Number of pings")
	f.DurationVarP(&opts.interval, "interval", "i", time.Second, "Delay between pings")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Connect and reply timeout")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Share the resolver cache through this redis server")

	return cmd
}

// pinger runs its own manager loop and measures PING/PONG round trips
// through a tcpclient.
type pinger struct {
	manager *netsocket.Manager
	client  *tcpclient.Client
	pongs   chan time.Time
	states  chan tcpclient.ConnectionStateEvent
}

func newPinger(address string, timeout time.Duration, redisAddr string, log logger.Logger) (*pinger, func() error, error) {
	m, err := netsocket.NewManager(netsocket.DefaultConfig(), log)
	if err != nil {
		return nil, nil, err
	}

	names, closeNames := newResolver(redisAddr, log)

	cfg := tcpclient.DefaultConfig(address)
	cfg.ConnectionTimeout = timeout
	p := &pinger{
		manager: m,
		client:  tcpclient.New(cfg, m, names, log),
		pongs:   make(chan time.Time, 1),
		states:  make(chan tcpclient.ConnectionStateEvent, 8),
	}

	p.client.OnConnectionState(func(e tcpclient.ConnectionStateEvent) {
		select {
		case p.states <- e:
		default:
		}
	})
	p.client.OnPacket(netsocket.PacketHandlerFunc(func(_ *netsocket.Conn, pk *packet.Packet) {
		if pk.Text() == pongText {
			select {
			case p.pongs <- time.Now():
			default:
			}
		}
	}))

	return p, closeNames, nil
}

// loop drives the manager until ctx ends.
func (p *pinger) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.manager.DoSelect(50*time.Millisecond, true); err != nil {
			return
		}
	}
}

func (p *pinger) waitConnected(ctx context.Context) error {
	for {
		select {
		case e := <-p.states:
			switch e.State {
			case tcpclient.Connected:
				return nil
			case tcpclient.Disconnected:
				if e.Error != nil {
					return e.Error
				}
				return errors.New("connection closed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *pinger) ping(ctx context.Context) (time.Duration, error) {
	sent := time.Now()
	if err := p.client.Send(packet.NewText(pingText)); err != nil {
		return 0, err
	}

	select {
	case at := <-p.pongs:
		return at.Sub(sent), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func runPing(ctx context.Context, out io.Writer, address string, opts pingOptions) error {
	log := logger.NewConsoleLogger(os.Stderr, serviceName, zerolog.WarnLevel)
	p, closeNames, err := newPinger(address, opts.timeout, opts.redisAddr, log)
	if err != nil {
		return err
	}
	defer closeNames()

	loopCtx, stopLoop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.loop(loopCtx)
	}()
	defer func() {
		_ = p.client.Close()
		stopLoop()
		<-done
		p.manager.Shutdown()
	}()

	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := p.client.Connect(connectCtx); err != nil {
		return err
	}
	if err := p.waitConnected(connectCtx); err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}

	var lost int
	for i := 0; i < opts.count; i++ {
		if i > 0 {
			time.Sleep(opts.interval)
		}

		pingCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		rtt, err := p.ping(pingCtx)
		cancel()
		if err != nil {
			lost++
			fmt.Fprintf(out, "ping %d: %v\n", i+1, err)
			continue
		}

		fmt.Fprintf(out, "pong from %s: seq=%d time=%s\n", address, i+1, rtt.Round(time.Microsecond))
	}

	fmt.Fprintf(out, "%d sent, %d received\n", opts.count, opts.count-lost)
	if lost == opts.count {
		return errors.New("no replies")
	}

	return nil
}
