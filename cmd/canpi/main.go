// canpi polls the receive FIFO of a Tiny-CAN device and appends every
// received frame, canonically formatted, to a log file.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tinycan "github.com/MechLabEngineering/CarPC"
	_ "github.com/MechLabEngineering/CarPC/pkg/can/socketcan"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("c", "", "yaml config file path")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	dev, err := tinycan.OpenDevice(cfg.Device)
	if err != nil {
		log.Fatal(err)
	}
	driver, err := tinycan.NewDriver(dev, cfg.Options)
	if err != nil {
		log.Fatal(err)
	}
	if err := driver.Initialize(0, nil, "", cfg.Bitrate); err != nil {
		log.Fatalf("device init failed: %v", err)
	}
	// Shutdown must run even on interrupt, the bus is cleared and the
	// native handle released.
	defer driver.Shutdown()

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("could not open log file: %v", err)
	}
	defer logFile.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(time.Duration(cfg.PollTimeMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			log.Info("done")
			return
		case <-ticker.C:
			count, err := driver.ReceiveGetCount(driver.Index())
			if err != nil {
				log.Errorf("receive count error : %v", err)
				continue
			}
			log.Debugf("%d messages in fifo", count)
			if count == 0 {
				continue
			}
			messages, err := driver.ReceiveAndFormat(driver.Index(), count)
			if err != nil {
				log.Errorf("receive error : %v", err)
				continue
			}
			for _, msg := range messages {
				fmt.Println(msg)
				if _, err := fmt.Fprintln(logFile, msg); err != nil {
					log.Errorf("log write error : %v", err)
				}
			}
		}
	}
}
