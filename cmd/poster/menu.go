package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ddalti/internal/models"

	"github.com/rs/zerolog"
)

var errQuit = errors.New("quit requested")

type statsReader interface {
	Stats(ctx context.Context) (models.QueueStats, error)
}

type crawler interface {
	Run(ctx context.Context) (models.IngestSummary, error)
}

type stopper interface {
	Stop()
}

// menu is the operator console: 1 stats, 2 manual crawl, 3 stop scheduler, 4 quit.
type menu struct {
	in      io.Reader
	out     io.Writer
	store   statsReader
	crawler crawler
	poller  stopper
	loc     *time.Location
	logger  *zerolog.Logger
}

// Run reads choices until quit, EOF or ctx is done. Quit returns errQuit so
// the surrounding errgroup shuts everything down; EOF leaves the daemon running.
func (m *menu) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	m.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "1":
				m.printStats(ctx)
			case "2":
				m.crawl(ctx)
			case "3":
				m.poller.Stop()
				fmt.Fprintln(m.out, "스케줄러를 중지했습니다. 수동 명령은 계속 사용할 수 있습니다.")
			case "4":
				fmt.Fprintln(m.out, "프로그램을 종료합니다.")
				return errQuit
			case "":
				continue
			default:
				fmt.Fprintln(m.out, "잘못된 선택입니다.")
			}
			m.prompt()
		}
	}
}

func (m *menu) prompt() {
	fmt.Fprint(m.out, "\n1. 큐 통계\n2. 수동 수집\n3. 스케줄러 중지\n4. 종료\n선택: ")
}

func (m *menu) printStats(ctx context.Context) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("menu stats failed")
		fmt.Fprintf(m.out, "통계 조회 실패: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "\n=== 큐 통계 (%s) ===\n", time.Now().In(m.loc).Format(models.TimeLayout))
	fmt.Fprintf(m.out, "전체: %d\n%s: %d\n%s: %d\n%s: %d\n%s: %d\n",
		stats.Total,
		models.LabelPending, stats.Pending,
		models.LabelPosted, stats.Completed,
		models.LabelFailed, stats.Failed,
		models.LabelRetrying, stats.Retry)
}

func (m *menu) crawl(ctx context.Context) {
	fmt.Fprintln(m.out, "수집을 시작합니다...")
	summary, err := m.crawler.Run(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("run_id", summary.RunID).Msg("menu crawl failed")
		fmt.Fprintf(m.out, "수집 실패: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "수집 완료: 수집 %d · 인기 %d · 신규 %d · 대기열 추가 %d · 이미지 %d (%s)\n",
		summary.Fetched, summary.Hot, summary.New, summary.Queued, summary.Images, summary.Duration.Round(time.Millisecond))
}
