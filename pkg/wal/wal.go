package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔
	FileModePrivate fs.FileMode = 0600
)

// ErrClosed WAL 已關閉
var ErrClosed = errors.New("wal: closed")

// Record 一行 JSON 紀錄
// Op 表示操作種類，Data 由呼叫端自行解碼
type Record struct {
	Seq  uint64          `json:"seq"`
	Op   string          `json:"op"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// WAL 以 JSON Lines 格式追加寫入的日誌檔
type WAL struct {
	file   *os.File
	mu     sync.Mutex
	seq    uint64
	noSync bool
	closed bool
}

// Option WAL 選項
type Option func(*WAL)

// WithoutSync 每次寫入後不呼叫 fsync (測試或可容忍遺失時使用)
func WithoutSync() Option {
	return func(w *WAL) {
		w.noSync = true
	}
}

// Open 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func Open(path string, opts ...Option) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	w := &WAL{file: file}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Append 寫入一筆紀錄並 (預設) 刷入硬碟
//
// 參數:
//
//	op: 操作種類
//	v: 紀錄內容，會以 JSON 編碼
func (w *WAL) Append(op string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wal: encode %s: %w", op, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	rec := Record{Seq: w.seq + 1, Op: op, At: time.Now().UTC(), Data: data}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("wal: encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if !w.noSync {
		// 強制刷入硬碟 (關鍵！)
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync: %w", err)
		}
	}
	w.seq = rec.Seq
	return nil
}

// Replay 從頭依序讀取所有紀錄
// 最後一行若寫到一半 (程序中斷) 會被截掉，其餘解碼錯誤直接回傳
func (w *WAL) Replay(fn func(rec Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return nil
			}
			// 沒有換行結尾代表最後一筆沒寫完，截掉以免接在後面的新紀錄被污染
			if err := w.file.Truncate(offset); err != nil {
				return fmt.Errorf("wal: truncate torn tail: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal: read: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("wal: decode record %d: %w", w.seq+1, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		if rec.Seq > w.seq {
			w.seq = rec.Seq
		}
		offset += int64(len(line))
	}
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
