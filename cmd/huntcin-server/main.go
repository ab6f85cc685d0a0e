// Command huntcin-server runs the HuntCin game server over the RDT 3.0
// transport.
//
// Usage:
//
//	huntcin-server <port> [round_secs=10] [loss_prob=0.0]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jpedroflx/huntcin/internal/game"
	"github.com/jpedroflx/huntcin/internal/logging"
	"github.com/jpedroflx/huntcin/internal/transport"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Uso: huntcin-server <porta_servidor> [duracao_rodada_seg] [loss_prob]")
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 1
	}

	port, err := strconv.Atoi(os.Args[1])
	if err != nil {
		usage()
		return 1
	}

	roundSecs := 10
	if len(os.Args) >= 3 {
		roundSecs, err = strconv.Atoi(os.Args[2])
		if err != nil {
			usage()
			return 1
		}
	}

	lossProb := 0.0
	if len(os.Args) >= 4 {
		lossProb, err = strconv.ParseFloat(os.Args[3], 64)
		if err != nil {
			usage()
			return 1
		}
	}

	log := logging.New("huntcin-server")

	trans, err := transport.Listen(fmt.Sprintf("0.0.0.0:%d", port), transport.Config{
		LossProb: lossProb,
		Logger:   log,
	})
	if err != nil {
		log.Errorf("failed binding UDP :%d: %v", port, err)
		return 1
	}
	defer trans.Close()

	server := game.NewServer(trans, game.Config{
		RoundDuration: time.Duration(roundSecs) * time.Second,
		Logger:        log,
	})

	log.Infof("HuntCin escutando em UDP :%d (rodada=%ds, loss=%.2f)", port, roundSecs, lossProb)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	server.Run(ctx)
	return 0
}
