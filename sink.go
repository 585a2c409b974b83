package native

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

const stdoutFd = 1

// marker is written through the pipe by Sync; every byte before it has been
// delivered once the reader sees it.
var marker = []byte("\x00\x1b[native:sync]\x00")

// sink is the process wide redirection of fd 1 into a callback.
type sink struct {
	mu    sync.Mutex // guards installation and the fields below
	on    atomic.Bool
	busy  atomic.Bool // forward is running the callback
	cb    atomic.Pointer[func(string)]
	saved int      // duplicate of the original fd 1
	r     *os.File // pipe read end, drained by forward
	w     *os.File // pipe write end kept for markers
	acks  chan struct{}
	done  chan struct{}
}

var output = new(sink)

// Install redirects the process standard output (fd 1) into cb. Every chunk
// written by native code, or by Go code through os.Stdout, is delivered to cb
// from a single goroutine, in write order. Installing again replaces the
// callback after delivering pending output to the previous one. A nil cb
// uninstalls.
//
// cb must not call Install, Uninstall or Sync. It may invoke native symbols;
// output of those calls reaches cb after the running cb returns.
func Install(cb func(string)) error {
	if cb == nil {
		if err := Uninstall(); err != nil && !errors.Is(err, ErrSinkNotInstalled) {
			return err
		}
		return nil
	}
	return output.install(cb)
}

// Uninstall restores the original standard output after delivering what was
// written so far.
func Uninstall() error { return output.uninstall() }

// Installed reports whether the output sink is active.
func Installed() bool { return output.on.Load() }

// Sync flushes the C stdio buffers and blocks until everything written to
// standard output so far has been passed to the callback.
func Sync() error { return output.Sync() }

// Capture runs f with standard output redirected and returns what f wrote.
// If a callback is installed the output goes there instead and Capture
// returns an empty string.
func Capture(f func()) (out string, err error) {
	if Installed() {
		f()
		return "", Sync()
	}
	var b strings.Builder
	if err = output.install(func(s string) { b.WriteString(s) }); err != nil {
		return "", err
	}
	defer func() {
		if e := output.uninstall(); err == nil {
			err = e
		}
		out = b.String()
	}()
	f()
	return
}

func (s *sink) install(cb func(string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.on.Load() {
		_ = s.sync()
		s.cb.Store(&cb)
		return nil
	}
	flushStdio()
	r, w, err := pipe()
	if err != nil {
		return fmt.Errorf("native: install output sink: %w", err)
	}
	if err = setNonblock(r); err != nil {
		closeFds(r, w)
		return fmt.Errorf("native: install output sink: %w", err)
	}
	saved, err := dupFd(stdoutFd)
	if err != nil {
		closeFds(r, w)
		return fmt.Errorf("native: install output sink: %w", err)
	}
	if err = dupTo(w, stdoutFd); err != nil {
		closeFds(r, w, saved)
		return fmt.Errorf("native: install output sink: %w", err)
	}
	s.saved = saved
	s.r = os.NewFile(uintptr(r), "native-sink-r")
	s.w = os.NewFile(uintptr(w), "native-sink-w")
	s.acks = make(chan struct{}, 1)
	s.done = make(chan struct{})
	s.cb.Store(&cb)
	s.on.Store(true)
	go s.forward(s.r, s.acks, s.done)
	Logger().Debug("output sink installed")
	return nil
}

func (s *sink) uninstall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on.Load() {
		return ErrSinkNotInstalled
	}
	flushStdio()
	err := dupTo(s.saved, stdoutFd)
	closeFds(s.saved)
	_ = s.sync()
	s.on.Store(false)
	_ = s.w.Close()
	_ = s.r.Close()
	<-s.done
	s.cb.Store(nil)
	s.r, s.w, s.saved = nil, nil, -1
	Logger().Debug("output sink uninstalled")
	if err != nil {
		return fmt.Errorf("native: restore stdout: %w", err)
	}
	return nil
}

// Sync is the exported form of sync, taking the installation lock.
func (s *sink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on.Load() {
		return ErrSinkNotInstalled
	}
	return s.sync()
}

// settle waits for delivery of a finished call's output. Calls made from
// inside the callback skip the wait, since only forward can acknowledge.
func (s *sink) settle() error {
	if !s.on.Load() || s.busy.Load() {
		return nil
	}
	return s.Sync()
}

// sync requires s.mu.
func (s *sink) sync() error {
	flushStdio()
	if _, err := s.w.Write(marker); err != nil {
		return fmt.Errorf("native: sync output sink: %w", err)
	}
	select {
	case <-s.acks:
	case <-s.done:
	}
	return nil
}

func (s *sink) forward(r *os.File, acks chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = s.deliver(append(pending, buf[:n]...), acks)
		}
		if err != nil {
			s.emit(pending)
			return
		}
	}
}

// deliver emits p up to the last complete chunk, acknowledging markers, and
// returns the tail that may continue in the next read.
func (s *sink) deliver(p []byte, acks chan<- struct{}) []byte {
	for {
		i := bytes.Index(p, marker)
		if i < 0 {
			break
		}
		s.emit(p[:i])
		p = p[i+len(marker):]
		select {
		case acks <- struct{}{}:
		default:
		}
	}
	k := partialMarker(p)
	if k == 0 {
		k = partialRune(p)
	}
	s.emit(p[:len(p)-k])
	return append([]byte(nil), p[len(p)-k:]...)
}

func (s *sink) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	if cb := s.cb.Load(); cb != nil {
		s.busy.Store(true)
		defer s.busy.Store(false)
		(*cb)(string(p))
	}
}

// partialMarker returns the length of the longest suffix of p that starts marker.
func partialMarker(p []byte) int {
	for k := min(len(p), len(marker)-1); k > 0; k-- {
		if bytes.HasSuffix(p, marker[:k]) {
			return k
		}
	}
	return 0
}

// partialRune returns the length of an incomplete UTF-8 sequence ending p.
func partialRune(p []byte) int {
	for k := 1; k <= utf8.UTFMax-1 && k <= len(p); k++ {
		if utf8.RuneStart(p[len(p)-k]) {
			if utf8.FullRune(p[len(p)-k:]) {
				return 0
			}
			return k
		}
	}
	return 0
}
