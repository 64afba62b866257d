// Command simhost runs the osal runtime on the host Linux kernel, using
// timerfd and epoll as the tick source instead of a target MCU's hardware
// timer. It registers two demonstration tasks - a periodic printer and a
// statistics reporter driven off Runtime.Metrics - and otherwise follows
// the disable/init/add-tasks/kick/enable/run bring-up sequence used on the
// embedded target.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-osal"
)

const (
	eventTick uint16 = 0x0001
	eventStat uint16 = 0x0001
)

func printTaskInit(id osal.TaskID) {
	fmt.Printf("print task %d: starting\n", id)
}

func printTaskHandler(rt *osal.Runtime) osal.TaskHandlerFunc {
	return func(id osal.TaskID, events uint16) uint16 {
		if events&eventTick != 0 {
			fmt.Printf("print task %d: tick at %dms\n", id, rt.Millis())
			_ = rt.StartTimer(id, eventTick, 1000, true)
			events &^= eventTick
		}
		return events
	}
}

func statsTaskHandler(rt *osal.Runtime) osal.TaskHandlerFunc {
	return func(id osal.TaskID, events uint16) uint16 {
		if events&eventStat != 0 {
			if m := rt.Metrics(); m != nil {
				fmt.Printf("stats task %d: dispatch/s=%.2f timers=%d heap_used=%d\n",
					id, m.DispatchRate, rt.NumActiveTimers(), m.Gauges.HeapUsedCurrent)
			}
			_ = rt.StartTimer(id, eventStat, 5000, true)
			events &^= eventStat
		}
		return events
	}
}

func main() {
	logger := osal.NewZerologLogger(os.Stdout, 0)

	port, err := newPort()
	if err != nil {
		fmt.Fprintln(os.Stderr, "newPort:", err)
		os.Exit(1)
	}
	port.DisableInterrupts()

	rt, err := osal.New(
		osal.WithHeapSize(8192),
		osal.WithMaxTasks(8),
		osal.WithTickPeriod(10),
		osal.WithMetrics(true),
		osal.WithLogger(logger),
		osal.WithPort(port),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "osal.New:", err)
		os.Exit(1)
	}

	printID, err := rt.AddTask(printTaskInit, printTaskHandler(rt), 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "AddTask(print):", err)
		os.Exit(1)
	}
	statsID, err := rt.AddTask(nil, statsTaskHandler(rt), 2)
	if err != nil {
		fmt.Fprintln(os.Stderr, "AddTask(stats):", err)
		os.Exit(1)
	}

	rt.MemKick()
	port.EnableInterrupts()

	_ = rt.SetEvent(printID, eventTick)
	_ = rt.SetEvent(statsID, eventStat)

	go func() {
		<-time.After(30 * time.Second)
		rt.Stop()
	}()

	if err := rt.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "Run:", err)
		os.Exit(1)
	}
}
