package commands

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "trackbot/internal/runtime/supervisor"
	kit "trackbot/internal/transport"
	logx "trackbot/pkg/logx"
	"trackbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Flags   map[string]string
	ReqID   string
	Log     logx.Logger

	sender kit.Sender
}

// Reply sends an HTML message to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Router parses incoming messages and runs the matching command on a
// bounded worker pool.
type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu      sync.RWMutex
	cmds    []Command
	byName  map[string]*Command
	owners  []int64
	botName string

	jobs    chan func()
	workers int
}

func NewRouter(sender kit.Sender, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		sender:  sender,
		byName:  map[string]*Command{},
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(), 256),
		workers: 4,
	}
}

// Register adds commands. A later command with the same name or alias wins.
func (m *Router) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		m.cmds = append(m.cmds, c)
		cp := m.cmds[len(m.cmds)-1]
		m.byName[strings.ToLower(c.Name)] = &cp
		for _, a := range c.Aliases {
			m.byName[strings.ToLower(a)] = &cp
		}
	}
}

func (m *Router) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = append([]int64(nil), owners...)
	m.mu.Unlock()
}

// SetBotName makes the router ignore commands addressed to other bots.
func (m *Router) SetBotName(name string) {
	m.mu.Lock()
	m.botName = strings.TrimPrefix(strings.TrimSpace(name), "@")
	m.mu.Unlock()
}

// Menu lists everyone-access commands for the platform command menu.
func (m *Router) Menu() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.cmds))
	for _, c := range m.cmds {
		if c.Access != AccessEveryone {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

func (m *Router) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Dispatch consumes updates until ctx ends or updates is closed.
func (m *Router) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			msg := up.Message
			select {
			case m.jobs <- func() { _ = m.Route(ctx, msg) }:
			default:
				_, _ = m.sender.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "busy, try again", nil)
			}
		}
	}
}

// Route runs the command in msg synchronously. Unknown commands and
// non-command text are ignored.
func (m *Router) Route(ctx context.Context, msg *kit.Message) error {
	name, mention, args, ok := parseCommand(msg.Text)
	if !ok {
		return nil
	}
	m.mu.RLock()
	cmd, found := m.byName[name]
	bot := m.botName
	m.mu.RUnlock()
	if mention != "" && bot != "" && !strings.EqualFold(mention, bot) {
		return nil
	}
	if !found {
		return nil
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		_, err := m.sender.SendText(ctx, chat, "this command is for the bot owner only", nil)
		return err
	}

	pos, flags := parseFlags(args)
	rid := uuid.NewString()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    pos,
		Flags:   flags,
		ReqID:   rid,
		Log: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: m.sender,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))
	return h(ctx, req)
}

// HelpCommand lists the commands the caller may use.
func (m *Router) HelpCommand() Command {
	return Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			owner := m.isOwner(req.FromID)
			m.mu.RLock()
			cmds := append([]Command(nil), m.cmds...)
			m.mu.RUnlock()
			sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

			var b strings.Builder
			b.WriteString("<b>commands</b>")
			for _, c := range cmds {
				if c.Access == AccessOwnerOnly && !owner {
					continue
				}
				line := "/" + c.Name
				if c.Usage != "" {
					line = c.Usage
				}
				b.WriteString("\n" + string(tgui.Code(line)+" "+tgui.Esc(c.Description)))
			}
			return req.Reply(ctx, b.String())
		},
	}
}
