// Command mock-valkey emulates just enough of a key-value server for local
// development: PING, INFO and SLOWLOG LEN over the wire protocol. Reported
// values drift smoothly and spike every couple of minutes so detections can
// be exercised without real load.
package main

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

func main() {
	addr := ":6379"
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	logger := log.New(log.Writer(), "mock-valkey ", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("listening on %s", addr)

	gen := newGenerator(time.Now())
	for {
		conn, err := lis.Accept()
		if err != nil {
			logger.Fatalf("accept: %v", err)
		}
		go serve(logger, conn, gen)
	}
}

func serve(logger *log.Logger, conn net.Conn, gen *generator) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		switch strings.ToUpper(args[0]) {
		case "PING":
			w.WriteString("+PONG\r\n")
		case "INFO":
			info := gen.info(time.Now())
			fmt.Fprintf(w, "$%d\r\n%s\r\n", len(info), info)
		case "SLOWLOG":
			fmt.Fprintf(w, ":%d\r\n", gen.slowlogLen(time.Now()))
		default:
			fmt.Fprintf(w, "-ERR unknown command '%s'\r\n", args[0])
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// readCommand parses one RESP array of bulk strings.
func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '*' {
		// Inline command, e.g. from redis-cli piping.
		return strings.Fields(line), nil
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 || header[0] != '$' {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil || size < 0 {
			return nil, fmt.Errorf("bad bulk size %q", header)
		}
		buf := make([]byte, size+2)
		if _, err := readFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// generator produces drifting server statistics with a spike window every
// two minutes so anomaly detection has something to find.
type generator struct {
	start   time.Time
	rng     *rand.Rand
	evicted float64
	misses  float64
}

func newGenerator(start time.Time) *generator {
	return &generator{start: start, rng: rand.New(rand.NewSource(start.UnixNano()))}
}

func (g *generator) spiking(now time.Time) bool {
	return int(now.Sub(g.start).Seconds())%120 >= 110
}

func (g *generator) info(now time.Time) string {
	t := now.Sub(g.start).Seconds()
	drift := math.Sin(t / 30)

	clients := 50 + 5*drift + g.rng.Float64()*2
	ops := 1200 + 150*drift + g.rng.Float64()*40
	memory := 64<<20 + int64(2<<20*drift)
	g.misses += 10 + g.rng.Float64()*5

	if g.spiking(now) {
		clients *= 8
		memory *= 3
		g.evicted += 500
	}

	var b strings.Builder
	b.WriteString("# Clients\r\n")
	fmt.Fprintf(&b, "connected_clients:%d\r\n", int(clients))
	fmt.Fprintf(&b, "blocked_clients:%d\r\n", 0)
	b.WriteString("# Memory\r\n")
	fmt.Fprintf(&b, "used_memory:%d\r\n", memory)
	fmt.Fprintf(&b, "mem_fragmentation_ratio:%.2f\r\n", 1.05+0.02*drift)
	b.WriteString("# Stats\r\n")
	fmt.Fprintf(&b, "instantaneous_ops_per_sec:%d\r\n", int(ops))
	fmt.Fprintf(&b, "instantaneous_input_kbps:%.2f\r\n", 300+40*drift)
	fmt.Fprintf(&b, "instantaneous_output_kbps:%.2f\r\n", 800+90*drift)
	fmt.Fprintf(&b, "evicted_keys:%d\r\n", int64(g.evicted))
	fmt.Fprintf(&b, "keyspace_misses:%d\r\n", int64(g.misses))
	b.WriteString("# Errorstats\r\n")
	fmt.Fprintf(&b, "errorstat_NOPERM:count=%d\r\n", int(t/60))
	return b.String()
}

func (g *generator) slowlogLen(now time.Time) int {
	if g.spiking(now) {
		return 30 + g.rng.Intn(10)
	}
	return g.rng.Intn(3)
}
