// tinycan is a small self test tool for the driver, covering the classic
// bring-up scenarios: send only, receive only, loopback echo, send and
// receive, event driven reception and filter exercising.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tinycan "github.com/MechLabEngineering/CarPC"
	_ "github.com/MechLabEngineering/CarPC/pkg/can/socketcan"
	log "github.com/sirupsen/logrus"
)

func main() {
	backend := flag.String("i", "virtual", "device backend: virtual, socketcan")
	serial := flag.String("S", "", "serial number of the device")
	bitrate := flag.Int("b", 250, "can bitrate in kBit/s")
	mode := flag.String("m", "send", "test mode: send, receive, loopback, sendreceive, events, filter")
	pollTime := flag.Duration("t", 500*time.Millisecond, "poll interval")
	debug := flag.Bool("d", false, "debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	if !tinycan.ValidBitrate(*bitrate) {
		log.Fatalf("invalid can bitrate %d", *bitrate)
	}
	if *pollTime < 10*time.Millisecond {
		log.Fatal("polltime too short, must be at least 10ms")
	}

	dev, err := tinycan.OpenDevice(*backend)
	if err != nil {
		log.Fatal(err)
	}
	if virtual, ok := dev.(*tinycan.VirtualDevice); ok {
		// Without real bus peers the virtual device echoes its own frames.
		virtual.SetReceiveOwn(true)
	}
	driver, err := tinycan.NewDriver(dev, map[string]any{
		tinycan.OptCanRxDMode:  1,
		tinycan.OptAutoConnect: 1,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := driver.Initialize(0, nil, *serial, *bitrate); err != nil {
		log.Fatalf("device init failed: %v", err)
	}
	defer driver.Shutdown()

	fmt.Println("driver properties:", driver.DriverProperties())
	fmt.Println("device properties:", driver.DeviceProperties())
	status, err := driver.Status(driver.Index())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tinycan.FormatDeviceStatus(status))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	fmt.Println("start", *mode)
	switch *mode {
	case "send":
		sendOnly(driver, *pollTime, interrupt)
	case "receive":
		receiveOnly(driver, *pollTime, interrupt)
	case "loopback":
		loopback(driver, *pollTime, interrupt)
	case "sendreceive":
		sendAndReceive(driver, *pollTime, interrupt)
	case "events":
		events(driver, *pollTime, interrupt)
	case "filter":
		filters(driver, *pollTime, interrupt)
	default:
		log.Fatalf("unknown test mode %q", *mode)
	}
	fmt.Println("done")
}

func randomPayload() []byte {
	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(10 + rand.Intn(90))
	}
	return data
}

func sendOnly(driver *tinycan.Driver, pollTime time.Duration, interrupt chan os.Signal) {
	var id uint32
	for {
		select {
		case <-interrupt:
			return
		default:
		}
		data := randomPayload()
		fmt.Printf("message sending: %#x %v\n", id, data)
		if err := driver.TransmitData(driver.Index(), id, data, false); err != nil {
			fmt.Println("error while sending message, getting device status")
			if status, statusErr := driver.Status(driver.Index()); statusErr == nil {
				fmt.Println(tinycan.FormatDeviceStatus(status))
			}
			fmt.Println("resetting CAN")
			if err := driver.SetBusMode(driver.Index(), tinycan.ModeReset); err != nil {
				log.Errorf("reset error : %v", err)
			}
		}
		id++
		time.Sleep(pollTime)
	}
}

func receiveOnly(driver *tinycan.Driver, pollTime time.Duration, interrupt chan os.Signal) {
	index, err := driver.SetFilter(0, 0x0001, 0x0001, 0, false)
	if err != nil {
		log.Fatalf("set filter failed: %v", err)
	}
	fmt.Printf("filter set on index %#x\n", uint32(index))
	pollAndPrint(driver, driver.Index(), pollTime, interrupt)
}

func loopback(driver *tinycan.Driver, pollTime time.Duration, interrupt chan os.Signal) {
	for {
		select {
		case <-interrupt:
			return
		default:
		}
		messages, err := driver.Receive(driver.Index(), 6)
		if err != nil {
			log.Errorf("receive error : %v", err)
		}
		for _, msg := range messages {
			echo := msg.Data[:msg.Flags.DLC()]
			if err := driver.TransmitData(driver.Index(), msg.ID, echo, false); err != nil {
				log.Errorf("echo error : %v", err)
			}
		}
		time.Sleep(pollTime)
	}
}

func sendAndReceive(driver *tinycan.Driver, pollTime time.Duration, interrupt chan os.Signal) {
	counter, timeouts, errors := 0, 0, 0
	for {
		select {
		case <-interrupt:
			return
		default:
		}
		pattern := randomPayload()
		if err := driver.TransmitData(driver.Index(), 0x01, pattern, false); err != nil {
			log.Errorf("transmit error : %v", err)
		}
		var received []tinycan.Message
		for attempt := 0; attempt < 50; attempt++ {
			messages, err := driver.Receive(driver.Index(), 1)
			if err == nil && len(messages) > 0 {
				received = messages
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if len(received) == 0 {
			fmt.Println("no answer")
			timeouts++
		} else {
			fmt.Println("pattern =", pattern)
			fmt.Println("result  =", received[0].Data[:received[0].Flags.DLC()])
			if string(received[0].Data[:]) != string(pattern) {
				errors++
			}
		}
		counter++
		fmt.Printf("count=%d, timeouts=%d, errors=%d\n", counter, timeouts, errors)
		time.Sleep(pollTime)
	}
}

func events(driver *tinycan.Driver, pollTime time.Duration, interrupt chan os.Signal) {
	fmt.Println("set up events")
	if err := driver.SetupEvents(nil, nil, nil); err != nil {
		log.Fatalf("event setup failed: %v", err)
	}
	for {
		select {
		case <-interrupt:
			return
		default:
		}
		fmt.Println("sending Hello on ID 0x610")
		if err := driver.TransmitData(driver.Index(), 0x610, []byte("Hello"), false); err != nil {
			log.Errorf("transmit error : %v", err)
		}
		time.Sleep(pollTime)
	}
}

func filters(driver *tinycan.Driver, pollTime time.Duration, interrupt chan os.Signal) {
	const filterMask = 0x1FFFFFFF
	filterID := uint32(0x18FFDA00)
	maxFilters, _ := strconv.Atoi(driver.DeviceProperties()[tinycan.PropFilterCount])
	for i := 0; i < maxFilters; i++ {
		index, err := driver.SetFilter(0, filterID, filterMask, 0, false)
		fmt.Printf("set up filter to index %#x with ID %#x and mask %#x, error: %v\n",
			uint32(index), filterID, uint32(filterMask), err)
		filterID++
	}
	if err := driver.SetEvents(tinycan.EventEnablePnPChange | tinycan.EventEnableRxFilterMessages | tinycan.EventEnableStatusChange); err != nil {
		log.Errorf("set events error : %v", err)
	}
	intervalID := uint32(0x18FF00DA)
	intervalMs := 1000
	maxIntervals, _ := strconv.Atoi(driver.DeviceProperties()[tinycan.PropIntervalBufferCount])
	for i := 0; i < maxIntervals; i++ {
		index, err := driver.SetIntervalMessage(0, intervalID, []byte("Hello"), intervalMs)
		fmt.Printf("set up interval message to index %#x with ID %#x and interval %dms, error: %v\n",
			uint32(index), intervalID, intervalMs, err)
		intervalID += 0x100
		intervalMs += 500
	}
	pollAndPrint(driver, driver.Index(), pollTime, interrupt)
}

func pollAndPrint(driver *tinycan.Driver, index tinycan.Index, pollTime time.Duration, interrupt chan os.Signal) {
	for {
		select {
		case <-interrupt:
			return
		default:
		}
		count, err := driver.ReceiveGetCount(index)
		if err != nil {
			log.Errorf("receive count error : %v", err)
		}
		fmt.Printf("%d messages in fifo\n", count)
		if count > 0 {
			messages, err := driver.ReceiveAndFormat(index, count)
			if err != nil {
				log.Errorf("receive error : %v", err)
			}
			for _, msg := range messages {
				fmt.Println(msg)
			}
		}
		time.Sleep(pollTime)
	}
}
