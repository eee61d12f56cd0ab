// mock-smtp is a development SMTP sink for exercising the queue worker
// without a real relay. It accepts every message, except that recipients
// whose address starts with "fail" are rejected at RCPT time so retry and
// permanent-failure paths can be observed.
package main

import (
	"bufio"
	"log"
	"net"
	"os"
	"strings"
	"sync/atomic"
)

var (
	acceptedCount atomic.Int64
	rejectedCount atomic.Int64
)

func main() {
	port := "2525"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}

	log.Printf("Mock SMTP sink listening on :%s", port)
	log.Printf("  RCPT TO <fail...@...>  -> 550 rejected")
	log.Printf("  everything else        -> 250 accepted")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept error: %v", err)
			continue
		}
		go handle(conn)
	}
}

func handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	reply := func(line string) {
		w.WriteString(line + "\r\n")
		w.Flush()
	}

	reply("220 mock-smtp ready")

	inData := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if inData {
			if line == "." {
				inData = false
				count := acceptedCount.Add(1)
				log.Printf("[#%d] message accepted", count)
				reply("250 2.0.0 accepted")
			}
			continue
		}

		verb := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
			reply("250-mock-smtp")
			reply("250 AUTH PLAIN LOGIN")
		case strings.HasPrefix(verb, "AUTH"):
			reply("235 2.7.0 authentication accepted")
		case strings.HasPrefix(verb, "MAIL FROM"):
			reply("250 2.1.0 ok")
		case strings.HasPrefix(verb, "RCPT TO"):
			if rejectRecipient(line) {
				count := rejectedCount.Add(1)
				log.Printf("[#%d] recipient rejected: %s", count, line)
				reply("550 5.1.1 recipient rejected")
			} else {
				reply("250 2.1.5 ok")
			}
		case strings.HasPrefix(verb, "DATA"):
			inData = true
			reply("354 end with <CRLF>.<CRLF>")
		case strings.HasPrefix(verb, "RSET"), strings.HasPrefix(verb, "NOOP"):
			reply("250 2.0.0 ok")
		case strings.HasPrefix(verb, "QUIT"):
			reply("221 2.0.0 bye")
			return
		default:
			reply("250 2.0.0 ok")
		}
	}
}

func rejectRecipient(line string) bool {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start < 0 || end <= start {
		return false
	}
	addr := strings.ToLower(line[start+1 : end])
	return strings.HasPrefix(addr, "fail")
}
