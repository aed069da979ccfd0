// Command counterctl calls the counter on a running counterd.
//
//	counterctl -identity <id> get
//	counterctl -identity <id> increment
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"port-rpc/client"
	"port-rpc/codec"
	"port-rpc/config"
	"port-rpc/counter"
	"port-rpc/discovery"
	"port-rpc/logging"
)

var errUsage = errors.New("usage: counterctl [flags] get|increment")

type options struct {
	configPath string
	identity   string
	ws         string
	timeout    time.Duration
	command    string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config.yaml (optional)")
	flag.StringVar(&opts.identity, "identity", "", "Identity to present to the host")
	flag.StringVar(&opts.ws, "ws", "", "WebSocket base URL, e.g. ws://127.0.0.1:7601/rpc")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Give up waiting after this long")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] get|increment\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.command = flag.Arg(0)
	if flag.NArg() != 1 {
		opts.command = ""
	}

	if err := run(opts, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run performs one counter call and prints the value. Every resource it opens is released
// before it returns.
func run(opts options, out io.Writer) error {
	if opts.command != "get" && opts.command != "increment" {
		return errUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.identity != "" {
		cfg.Identity = opts.identity
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var dial client.DialFunc
	switch {
	case opts.ws != "":
		dial = client.DialWebSocket(opts.ws, cfg.ChannelName, cfg.Identity)
	case len(cfg.EtcdEndpoints) > 0:
		reg, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.EtcdTimeout, logger.Named("discovery"))
		if err != nil {
			return err
		}
		defer reg.Close()
		dial = client.DialDiscovered(reg, cfg.ChannelName, cfg.Identity)
	default:
		dial = client.DialStream("tcp", cfg.ListenAddr, cfg.ChannelName, cfg.Identity)
	}

	ct := codec.CodecTypeJSON
	if cfg.Codec == "binary" {
		ct = codec.CodecTypeBinary
	}
	c := client.New(dial, client.WithCodec(ct), client.WithHeartbeat(cfg.Heartbeat), client.WithLogger(logger))
	defer c.Close()
	cc := counter.NewClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	var v int64
	if opts.command == "get" {
		v, err = cc.Get(ctx)
	} else {
		v, err = cc.Increment(ctx, nil)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, v)
	return err
}
