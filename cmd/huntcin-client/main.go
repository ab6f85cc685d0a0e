// Command huntcin-client is the interactive HuntCin client over the RDT
// 3.0 transport.
//
// Usage:
//
//	huntcin-client <server_ip> <server_port> <local_port> [loss_prob=0.0]
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jpedroflx/huntcin/internal/game"
	"github.com/jpedroflx/huntcin/internal/logging"
	"github.com/jpedroflx/huntcin/internal/transport"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Uso: huntcin-client <ip_servidor> <porta_servidor> <porta_local_cliente> [loss_prob]")
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 4 {
		usage()
		return 1
	}

	serverIP := os.Args[1]
	serverPort, err := strconv.Atoi(os.Args[2])
	if err != nil {
		usage()
		return 1
	}
	localPort, err := strconv.Atoi(os.Args[3])
	if err != nil {
		usage()
		return 1
	}

	lossProb := 0.0
	if len(os.Args) >= 5 {
		lossProb, err = strconv.ParseFloat(os.Args[4], 64)
		if err != nil {
			usage()
			return 1
		}
	}

	log := logging.New("huntcin-client")

	trans, err := transport.Listen(fmt.Sprintf("0.0.0.0:%d", localPort), transport.Config{
		LossProb: lossProb,
		Logger:   log,
	})
	if err != nil {
		log.Errorf("failed binding UDP :%d: %v", localPort, err)
		return 1
	}
	defer trans.Close()

	serverAddr := transport.Addr{IP: serverIP, Port: serverPort}
	driver := game.NewClientDriver(trans, serverAddr, os.Stdout, log)
	driver.Start()
	defer driver.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		trans.Close()
		fmt.Println("\n[Cliente] Encerrado.")
		os.Exit(0)
	}()

	fmt.Printf("[Cliente] Conectado. Porta local=%d. Servidor=%s:%d\n", localPort, serverIP, serverPort)
	fmt.Println("Comandos: login <nome> | logout | move up/down/left/right | hint | suggest")

	if err := driver.RunForeground(os.Stdin); err != nil {
		log.Debugf("foreground loop ended: %v", err)
	}

	fmt.Println("\n[Cliente] Encerrado.")
	return 0
}
