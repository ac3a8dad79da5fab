package bot

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/doorman/bot/storage"
	"github.com/m3rciful/doorman/bot/verification"
	coreconfig "github.com/m3rciful/doorman/core/config"
	"github.com/m3rciful/doorman/core/logger"
	"github.com/m3rciful/doorman/core/scheduler"
	coretelegram "github.com/m3rciful/doorman/core/telegram"
	"github.com/m3rciful/doorman/core/telegram/commands"
	"github.com/m3rciful/doorman/core/telegram/router"
	tgsender "github.com/m3rciful/doorman/core/telegram/sender"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// App wires the verification workflow into the bot runtime.
type App struct {
	cfg *coreconfig.Config
	db  *sqlx.DB

	store *verification.Store
	sched *scheduler.Scheduler

	// Set in OnStart, before the bot begins receiving updates.
	workflow *verification.Workflow
	audit    *storage.VerificationLog
	disp     *tgsender.Dispatcher
	selfID   int64
}

// NewApp builds the application. db may be nil when the audit log is disabled.
func NewApp(cfg *coreconfig.Config, db *sqlx.DB) *App {
	return &App{
		cfg:   cfg,
		db:    db,
		store: verification.NewStore(),
		sched: scheduler.New("verify"),
	}
}

// TelegramRunOptions assembles the runtime options consumed by RunTelegram.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Приветствие и проверка работоспособности",
	})
	reg.RegisterCommand("/unban", commands.Command{
		Handler:     a.handleUnban,
		Description: "Разблокировать пользователя по id",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     a.handleStatus,
		Description: "Состояние бота",
		AdminOnly:   true,
		Hidden:      true,
	})

	if err := reg.RegisterCallback(verifyAnswerKey, a.handleAnswer); err != nil {
		return coretelegram.RunOptions{}, err
	}

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, coretelegram.Route{
		Endpoint: tele.OnUserJoined,
		Handler:  a.handleJoin,
	})

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      routes,
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, rt coretelegram.Runtime) error {
	a.disp = rt.Dispatcher
	if rt.Bot != nil && rt.Bot.Me != nil {
		a.selfID = rt.Bot.Me.ID
	}

	var recorder verification.Recorder
	if a.db != nil {
		a.audit = storage.NewVerificationLog(a.db)
		recorder = a.audit
	}

	v := a.cfg.Verification
	a.workflow = verification.NewWorkflow(
		verification.Config{
			Window:          v.Window(),
			CleanupDelay:    v.CleanupDelay(),
			DeleteOnResolve: v.DeleteOnResolve,
			Question:        v.Question,
			Options:         v.Options,
			CorrectOption:   v.CorrectOption,
		},
		a.store,
		a.sched,
		newMessenger(rt.Bot, rt.Dispatcher),
		newGate(rt.Bot),
		recorder,
	)

	logger.VER.Info("workflow ready",
		slog.String("event", "ready"),
		slog.Duration("window", v.Window()),
		slog.Duration("cleanup_delay", v.CleanupDelay()),
		slog.Bool("delete_on_resolve", v.DeleteOnResolve),
		slog.Bool("audit", recorder != nil),
	)
	return nil
}

func (a *App) onStop(ctx context.Context, rt coretelegram.Runtime) error {
	// Let in-flight timer callbacks finish their terminal transitions.
	a.sched.Wait()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
