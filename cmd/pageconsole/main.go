// Command pageconsole is a manual console for driving a BufferPool by
// hand: open a table, begin a transaction, insert, scan and delete
// records, commit or abort. It issues direct page/record commands and does
// not parse SQL; it has no command for inspecting pool or lock state.
package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"txcore/storage"
)

const recordSize = 65 // 1 marker byte + 64 bytes of payload

type session struct {
	engine *storage.Engine
	tables map[string]*storage.HeapFile
	txn    *storage.TransactionID
}

func newSession(log *zap.Logger) *session {
	return &session{
		engine: storage.NewEngine(storage.DefaultConfig(), log),
		tables: make(map[string]*storage.HeapFile),
	}
}

func (s *session) requireTxn() (storage.TransactionID, error) {
	if s.txn == nil {
		return 0, fmt.Errorf("no active transaction; run 'begin' first")
	}
	return *s.txn, nil
}

func (s *session) dispatch(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "open":
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: open <path>")
		}
		store, err := storage.NewFilePageStore(fields[1], s.engine.Config.PageSize)
		if err != nil {
			return "", err
		}
		s.tables[fields[1]] = storage.NewHeapFile(store, s.engine.Pool, recordSize)
		return fmt.Sprintf("opened %s", fields[1]), nil

	case "begin":
		tid := s.engine.Begin()
		s.txn = &tid
		return fmt.Sprintf("txn %d", uint64(tid)), nil

	case "insert":
		if len(fields) < 3 {
			return "", fmt.Errorf("usage: insert <table> <text...>")
		}
		txn, err := s.requireTxn()
		if err != nil {
			return "", err
		}
		f, ok := s.tables[fields[1]]
		if !ok {
			return "", fmt.Errorf("no such table %s", fields[1])
		}
		rid, err := f.InsertRecord(txn, storage.Record(strings.Join(fields[2:], " ")))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("inserted at page=%d slot=%d", rid.PageNumber, rid.Slot), nil

	case "delete":
		if len(fields) != 4 {
			return "", fmt.Errorf("usage: delete <table> <page> <slot>")
		}
		txn, err := s.requireTxn()
		if err != nil {
			return "", err
		}
		f, ok := s.tables[fields[1]]
		if !ok {
			return "", fmt.Errorf("no such table %s", fields[1])
		}
		page, _ := strconv.Atoi(fields[2])
		slot, _ := strconv.Atoi(fields[3])
		if err := f.DeleteRecord(txn, storage.RecordID{PageNumber: page, Slot: slot}); err != nil {
			return "", err
		}
		return "deleted", nil

	case "scan":
		if len(fields) != 3 {
			return "", fmt.Errorf("usage: scan <table> <page>")
		}
		txn, err := s.requireTxn()
		if err != nil {
			return "", err
		}
		f, ok := s.tables[fields[1]]
		if !ok {
			return "", fmt.Errorf("no such table %s", fields[1])
		}
		page, _ := strconv.Atoi(fields[2])
		recs, err := f.Scan(txn, page)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for i, r := range recs {
			fmt.Fprintf(&b, "[%d] %s\n", i, strings.TrimRight(string(r), "\x00"))
		}
		return b.String(), nil

	case "commit", "abort":
		txn, err := s.requireTxn()
		if err != nil {
			return "", err
		}
		if err := s.engine.Pool.TxnComplete(txn, fields[0] == "commit"); err != nil {
			return "", err
		}
		s.txn = nil
		return fields[0] + "ted", nil

	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
}

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	rl, err := readline.New("pageconsole> ")
	if err != nil {
		log.Fatal("readline init failed", zap.Error(err))
	}
	defer rl.Close()

	s := newSession(log)

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return
		}
		if err != nil {
			log.Error("readline error", zap.Error(err))
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		out, err := s.dispatch(line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}
}
