package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/player"
	"github.com/mcdev12/trivia/go/internal/round"
)

const helpText = `commands:
  /start            start the game (leader)
  /reset            back to the lobby after a win (leader)
  /target N         points needed to win (leader, lobby only)
  /time N           seconds per question, 0 for untimed (leader, lobby only)
  /category ID      restrict questions to a category, "none" for all
  /who              show the scoreboard
  /quit             leave the room
anything else is a guess`

var errUnknownCommand = errors.New("unknown command, try /help")

// console renders one player's game as text and turns input lines into
// game actions.
type console struct {
	out  io.Writer
	game *player.Game

	mu        sync.Mutex
	round     time.Time
	state     models.GameState
	winnerSet bool
}

func newConsole(out io.Writer, game *player.Game) *console {
	c := &console{out: out, game: game}
	s := game.Session
	s.OnGame(c.onGame)
	s.OnRoster(c.onRoster)
	s.OnGuess(c.onGuess)
	s.OnLeaderChange(func(leader models.Participant, ok bool) {
		if ok {
			c.printf("%s leads the room\n", leader.Username)
		}
	})
	s.OnClosed(func() { c.printf("the room was closed\n") })
	game.Round.OnState(func(st round.State) {
		if st == round.StateExpiring {
			c.printf("time is up\n")
		}
	})
	c.onGame(s.Game())
	return c
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) onGame(g models.Game) {
	c.mu.Lock()
	stateChanged := g.State != c.state
	c.state = g.State
	newRound := g.RoundStart != nil && !g.RoundStart.Equal(c.round)
	if g.RoundStart != nil {
		c.round = *g.RoundStart
	}
	announceWinner := g.State == models.GameStateFinished && g.WinnerID != nil && !c.winnerSet
	c.winnerSet = g.State == models.GameStateFinished && g.WinnerID != nil
	c.mu.Unlock()

	if stateChanged {
		switch g.State {
		case models.GameStateWaiting:
			c.printf("in the lobby: first to %d, %s\n", g.TargetScore, describeLimit(g))
		case models.GameStateInProgress:
			c.printf("the game is on\n")
		}
	}
	if newRound && g.State == models.GameStateInProgress && g.CurrentItem != nil {
		c.printf("Q: %s\n", g.CurrentItem.Question)
		if g.CurrentItem.ImageURL != "" {
			c.printf("   %s\n", g.CurrentItem.ImageURL)
		}
	}
	if announceWinner {
		name := "someone"
		if p, ok := c.game.Session.Participant(*g.WinnerID); ok {
			name = p.Username
		}
		c.printf("%s wins!\n", name)
	}
}

func (c *console) onRoster(ps []models.Participant) {
	c.printf("players: %s\n", scoreboard(ps))
}

func (c *console) onGuess(g models.Guess) {
	name := "?"
	if p, ok := c.game.Session.Participant(g.ParticipantID); ok {
		name = p.Username
	}
	if g.IsCorrect {
		c.printf("%s got it: %s\n", name, g.Guess)
		return
	}
	c.printf("%s: %s\n", name, g.Guess)
}

func scoreboard(ps []models.Participant) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, fmt.Sprintf("%s (%d)", p.Username, p.Score))
	}
	return strings.Join(parts, ", ")
}

func describeLimit(g models.Game) string {
	if !g.Timed() {
		return "untimed"
	}
	return fmt.Sprintf("%ds per question", *g.TimeLimit)
}

// handle runs one input line. It reports whether the player asked to quit.
func (c *console) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.guess(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/help":
		c.printf("%s\n", helpText)
	case "/quit":
		return true, nil
	case "/who":
		c.printf("players: %s\n", scoreboard(c.game.Session.Roster()))
	case "/start":
		_, err := c.game.Round.StartGame(ctx)
		return false, err
	case "/reset":
		_, err := c.game.Round.Reset(ctx)
		return false, err
	case "/target", "/time", "/category":
		patch, err := parsePatch(cmd, args)
		if err != nil {
			return false, err
		}
		_, err = c.game.Settings.UpdateSettings(ctx, patch)
		return false, err
	default:
		return false, errUnknownCommand
	}
	return false, nil
}

func (c *console) guess(ctx context.Context, text string) error {
	res, err := c.game.Round.SubmitGuess(ctx, text)
	if err != nil {
		return err
	}
	if !res.Correct {
		c.printf("nope\n")
		return nil
	}
	c.printf("correct! +%d, score %d\n", res.Points, res.NewScore)
	return nil
}

func parsePatch(cmd string, args []string) (models.SettingsPatch, error) {
	var patch models.SettingsPatch
	if len(args) != 1 {
		return patch, fmt.Errorf("usage: %s VALUE", cmd)
	}
	if cmd == "/category" && strings.EqualFold(args[0], "none") {
		patch.ClearCategory = true
		return patch, nil
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return patch, fmt.Errorf("%s wants a number, got %q", cmd, args[0])
	}
	switch cmd {
	case "/target":
		v := int(n)
		patch.TargetScore = &v
	case "/time":
		v := int(n)
		patch.TimeLimit = &v
	case "/category":
		patch.CategoryID = &n
	}
	return patch, nil
}

// run reads lines until /quit, end of input or ctx is done, then leaves
// the room.
func (c *console) run(ctx context.Context, in io.Reader, timeout time.Duration) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	closed := make(chan struct{})
	var once sync.Once
	c.game.Session.OnClosed(func() { once.Do(func() { close(closed) }) })

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-closed:
			c.game.Close()
			return nil
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := c.handle(ctx, line)
			if err != nil {
				c.printf("error: %v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if _, err := c.game.Leave(leaveCtx); err != nil {
		return fmt.Errorf("leave room %s: %w", c.game.Code, err)
	}
	c.printf("left room %s\n", c.game.Code)
	return nil
}
