//go:build linux

package osal

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// linuxTimerPort is a Port whose tick source is a CLOCK_MONOTONIC timerfd,
// delivered through the same epoll instance used to watch a stop
// eventfd, rather than a goroutine-driven time.Ticker. It embeds
// mutexPort for the critical-section and interrupt-flag primitives, which
// are platform-independent, and replaces only the tick machinery.
type linuxTimerPort struct {
	mutexPort

	epfd    int
	timerFd int
	stopFd  int

	periodMs uint16
	onTick   func()

	started  atomic.Bool
	closed   atomic.Bool
	loopDone chan struct{}
}

// NewLinuxPort constructs a Port backed by epoll and timerfd. It is only
// available on linux; other platforms should use NewMutexPort.
func NewLinuxPort() (Port, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	stopFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, stopFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(stopFd),
	}); err != nil {
		_ = unix.Close(stopFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	p := &linuxTimerPort{epfd: epfd, stopFd: stopFd, timerFd: -1}
	p.interruptsEnabled.Store(true)
	return p, nil
}

func (p *linuxTimerPort) TickInit(periodMs uint16, onTick func()) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return err
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	p.timerFd = fd
	p.periodMs = periodMs
	p.onTick = onTick
	return nil
}

func (p *linuxTimerPort) TickStart() error {
	if p.timerFd < 0 {
		return errInvariant("osal: TickInit not called before TickStart")
	}
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	// drain any stale wake left by a previous TickStop
	var drain [8]byte
	_, _ = unix.Read(p.stopFd, drain[:])

	interval := unix.NsecToTimespec(int64(p.periodMs) * int64(time.Millisecond))
	spec := unix.ItimerSpec{Interval: interval, Value: interval}
	if err := unix.TimerfdSettime(p.timerFd, 0, &spec, nil); err != nil {
		p.started.Store(false)
		return err
	}

	p.loopDone = make(chan struct{})
	go p.loop(p.loopDone)
	return nil
}

func (p *linuxTimerPort) loop(done chan struct{}) {
	defer close(done)
	var events [8]unix.EpollEvent
	for {
		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			switch int(events[i].Fd) {
			case p.timerFd:
				var buf [8]byte
				_, _ = unix.Read(p.timerFd, buf[:])
				if p.onTick != nil {
					p.onTick()
				}
			case p.stopFd:
				return
			}
		}
	}
}

func (p *linuxTimerPort) TickStop() error {
	if !p.started.CompareAndSwap(true, false) {
		return nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(p.stopFd, buf[:])
	if p.loopDone != nil {
		<-p.loopDone
	}
	return nil
}

func (p *linuxTimerPort) Close() error {
	err := p.TickStop()
	if p.timerFd >= 0 {
		_ = unix.Close(p.timerFd)
	}
	_ = unix.Close(p.stopFd)
	_ = unix.Close(p.epfd)
	p.closed.Store(true)
	return err
}
