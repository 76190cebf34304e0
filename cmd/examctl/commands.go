package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stemsi/exam-engine/internal/app"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/logger"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/roster"
	"github.com/stemsi/exam-engine/internal/service"
)

const commandTimeout = 5 * time.Minute

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Exam engine administration",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(enrollCmd(), publishCmd(), generateCmd(), sweepCmd(), tokenCmd())
	return root
}

// viperForCmd layers EXAMCTL_* environment variables under the command's flags.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	v.SetEnvPrefix("EXAMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// withApp connects to the stores, runs fn and releases the connections.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireString(v *viper.Viper, key string) (string, error) {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return "", fmt.Errorf("--%s is required", key)
	}
	return s, nil
}

func examIDFrom(v *viper.Viper) (uuid.UUID, error) {
	raw, err := requireString(v, "exam")
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid exam id %q: %w", raw, err)
	}
	return id, nil
}

// parseTime returns nil for an empty value.
func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q, want RFC3339: %w", raw, err)
	}
	return &t, nil
}

func enrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Schedule an exam for the students listed in a roster file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			examID, err := examIDFrom(v)
			if err != nil {
				return err
			}
			faculty, err := requireString(v, "faculty")
			if err != nil {
				return err
			}
			path, err := requireString(v, "roster")
			if err != nil {
				return err
			}
			start, err := parseTime(v.GetString("start"))
			if err != nil {
				return err
			}
			end, err := parseTime(v.GetString("end"))
			if err != nil {
				return err
			}

			identifiers, err := readRoster(path)
			if err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				exam, err := a.Exams.Schedule(ctx, examID, faculty, identifiers, start, end)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s: %d enrolled, window %s to %s\n",
					exam.ID, len(exam.EnrolledStudents), fmtTime(exam.StartTime), fmtTime(exam.EndTime))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("exam", "", "Exam id")
	f.String("faculty", "", "Owning faculty id")
	f.String("roster", "", "Roster file (.xlsx or .csv)")
	f.String("start", "", "Window start (RFC3339); defaults to the exam's start time")
	f.String("end", "", "Window end (RFC3339); defaults to start plus duration")
	return cmd
}

func readRoster(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := roster.Read(path, f)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return table.Identifiers()
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish results: compute statistics, complete the exam and integrate grades",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			examID, err := examIDFrom(v)
			if err != nil {
				return err
			}
			faculty, err := requireString(v, "faculty")
			if err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				exam, err := a.Exams.PublishResults(ctx, examID, faculty)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %s: %d submitted of %d attempts, average %s\n",
					exam.ID, exam.SubmittedCount, exam.TotalAttempts, fmtScore(exam.AverageScore))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("exam", "", "Exam id")
	f.String("faculty", "", "Owning faculty id")
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate questions from a syllabus file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			faculty, err := requireString(v, "faculty")
			if err != nil {
				return err
			}
			subject, err := requireString(v, "subject")
			if err != nil {
				return err
			}
			path, err := requireString(v, "syllabus")
			if err != nil {
				return err
			}
			syllabus, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			req := model.GenerateQuestionsRequest{
				Syllabus:   string(syllabus),
				Subject:    subject,
				Type:       model.QuestionType(strings.ToUpper(v.GetString("type"))),
				Count:      v.GetInt("count"),
				Difficulty: v.GetString("difficulty"),
				Marks:      v.GetInt("marks"),
				ExamID:     v.GetString("exam"),
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				questions, err := a.Questions.Generate(ctx, faculty, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, q := range questions {
					fmt.Fprintf(out, "%2d. [%s] %s\n", i+1, q.ID, q.Text)
				}
				fmt.Fprintf(out, "Saved %d question(s)\n", len(questions))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("faculty", "", "Owning faculty id")
	f.String("subject", "", "Subject")
	f.String("syllabus", "", "Path to a syllabus text file")
	f.String("type", string(model.QuestionTypeMCQ), "Question type (MCQ, DESCRIPTIVE)")
	f.Int("count", 5, "Number of questions")
	f.String("difficulty", "medium", "Difficulty (easy, medium, hard)")
	f.Int("marks", 1, "Marks per question")
	f.String("exam", "", "Draft exam id to attach the questions to")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Auto-submit overdue attempts of exams that ask for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				n, err := a.Attempts.SweepTimeouts(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Auto-submitted %d attempt(s)\n", n)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development JWT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			user, err := requireString(v, "user")
			if err != nil {
				return err
			}

			cfg := config.Load()
			if secret := v.GetString("secret"); secret != "" {
				cfg.JWTSecret = secret
			}
			auth := service.NewAuthService(cfg)
			token, err := auth.GenerateToken(service.Role(strings.ToLower(v.GetString("role"))), user, v.GetString("email"), v.GetString("name"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("role", string(service.RoleStudent), "Role (faculty, student)")
	f.String("user", "", "User id")
	f.String("email", "", "Email claim")
	f.String("name", "", "Name claim")
	f.String("secret", "", "Signing secret; defaults to JWT_SECRET")
	return cmd
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func fmtScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *s)
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
