package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeprep/mocktest/internal/attempt"
	"github.com/jeeprep/mocktest/internal/client"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/store"
)

// Default mock test seeded on the first import.
const (
	defaultMockTestName      = "JEE Main Full Mock"
	defaultMockTestDuration  = 3 * 60 * 60
	defaultMockTestQuestions = 90
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-questions FILE...",
		Short: "Import questions from JSON files into the question bank",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer db.Close()
			return importQuestions(cmd.Context(), db, args)
		},
	}
	f := cmd.Flags()
	dbFlags(f)
	logFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export completed attempts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	dbFlags(f)
	f.String("mock-test", "", "Mock test id (default: the default mock test)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	logFlags(f)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark expired in-progress attempts as abandoned",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer db.Close()

			grace := v.GetDuration("grace")
			n, err := db.AbandonExpired(cmd.Context(), time.Now().UTC(), grace)
			if err != nil {
				return fmt.Errorf("abandon expired: %w", err)
			}
			slog.Info("sweep finished", "abandoned", n, "grace", grace)
			return nil
		},
	}
	f := cmd.Flags()
	dbFlags(f)
	f.Duration("grace", 10*time.Minute, "Grace period after the deadline before abandoning")
	logFlags(f)
	return cmd
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a headless candidate against a server",
		RunE:  runSimulate,
	}
	f := cmd.Flags()
	f.String("server", "http://localhost:8080", "Server base URL (including any base path)")
	f.String("mock-test", "", "Mock test id (default: the server's default)")
	f.String("lead", "", "Lead id to attach to the attempt")
	f.StringP("lang", "l", "en", "Accept-Language sent to the server")
	f.Float64("answer-rate", 0.8, "Fraction of questions to answer")
	f.Uint64("seed", 0, "Random seed for answers (0 = time based)")
	f.Duration("think-time", 0, "Delay before each answer")
	f.Duration("autosave-interval", 60*time.Second, "Autosave interval")
	f.Bool("wait", false, "Do not submit early; let the countdown force submission")
	logFlags(f)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	var mt model.MockTest
	if id := v.GetString("mock-test"); id != "" {
		mt, err = db.GetMockTest(ctx, id)
	} else {
		mt, err = db.DefaultMockTest(ctx)
	}
	if err != nil {
		return fmt.Errorf("find mock test: %w", err)
	}

	results, err := db.ExportCompleted(ctx, mt.ID)
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}

	export := model.AttemptExport{
		MockTestID:   mt.ID,
		MockTestName: mt.Name,
		ExportedAt:   time.Now().UTC(),
		Results:      results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

// importQuestions loads question files into the bank. Each file is imported
// once; a file whose content changed since its import is skipped so that
// papers already drawn keep their questions.
func importQuestions(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to avoid altering drawn papers",
				"path", path)
			continue
		}

		var records []model.QuestionImport
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, qi := range records {
			q, err := qi.Question()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if _, err := db.InsertQuestion(ctx, q); err != nil {
				return fmt.Errorf("insert question from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(records))
	}

	return seedMockTest(ctx, db)
}

// seedMockTest creates the default full-length mock test when none exists.
func seedMockTest(ctx context.Context, db *store.Store) error {
	count, err := db.MockTestCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = db.CreateMockTest(ctx, model.MockTest{
		Name:           defaultMockTestName,
		ExamType:       model.ExamMain,
		Duration:       defaultMockTestDuration,
		TotalQuestions: defaultMockTestQuestions,
		IsActive:       true,
	})
	return err
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	c := client.New(v.GetString("server"))
	c.Lang = v.GetString("lang")

	start, err := c.Start(ctx, attempt.StartRequest{
		MockTestID: v.GetString("mock-test"),
		LeadID:     v.GetString("lead"),
	})
	if err != nil {
		if client.IsRetryable(err) {
			slog.Warn("question pool exhausted, try again later")
		}
		return fmt.Errorf("start attempt: %w", err)
	}
	slog.Info("attempt started", "attempt", start.AttemptID,
		"questions", start.TotalQuestions, "deadline", start.Deadline)

	seed := v.GetUint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	answerer := randomAnswerer(rand.New(rand.NewPCG(seed, seed>>1)), v.GetFloat64("answer-rate"))

	s := client.NewSession(c, start.AttemptID, answerer, client.SessionConfig{
		AutosaveInterval: v.GetDuration("autosave-interval"),
		ThinkTime:        v.GetDuration("think-time"),
		SubmitWhenDone:   !v.GetBool("wait"),
	})
	res, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("run session: %w", err)
	}

	rep, err := c.Report(ctx, res.ReportToken)
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// randomAnswerer answers a fraction of questions with a random option or number.
func randomAnswerer(rng *rand.Rand, rate float64) client.Answerer {
	return func(q attempt.QuestionView) (string, bool) {
		if rng.Float64() >= rate {
			return "", false
		}
		if q.Type.IsNumeric() {
			return strconv.Itoa(rng.IntN(100)), true
		}
		if len(q.Options) == 0 {
			return string(rune('A' + rng.IntN(4))), true
		}
		return q.Options[rng.IntN(len(q.Options))].ID, true
	}
}
