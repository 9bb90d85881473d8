package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"cheevobot/internal/challenge"
	"cheevobot/internal/pipeline"
	logx "cheevobot/pkg/logx"
)

const handlerTimeout = 30 * time.Second

func (b *Bot) registerHandlers() {
	b.bot.Handle("/leaderboard", b.withCtx(b.cmdLeaderboard))
	b.bot.Handle("/yearly", b.withCtx(b.cmdYearly))
	b.bot.Handle("/profile", b.withCtx(b.cmdProfile))
	b.bot.Handle("/status", b.withCtx(b.cmdStatus))
	b.bot.Handle("/track", b.admin(b.cmdTrack))
	b.bot.Handle("/award", b.admin(b.cmdAward))
	b.bot.Handle("/recheck", b.admin(b.cmdRecheck))
	b.bot.Handle("/challenge", b.admin(b.cmdChallenge))
}

type handler func(ctx context.Context, c tele.Context) error

func (b *Bot) withCtx(h handler) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := h(ctx, c); err != nil {
			b.log.Warn("command failed",
				logx.String("cmd", c.Text()), logx.Err(err))
			return c.Reply("something went wrong, check the logs")
		}
		return nil
	}
}

func (b *Bot) admin(h handler) tele.HandlerFunc {
	return b.withCtx(func(ctx context.Context, c tele.Context) error {
		if c.Sender() == nil || !b.isAdmin(c.Sender().ID) {
			return c.Reply("admins only")
		}
		return h(ctx, c)
	})
}

func (b *Bot) cmdLeaderboard(ctx context.Context, c tele.Context) error {
	period := challenge.PeriodOf(time.Now())
	challenges, err := b.deps.Store.ChallengesForPeriod(ctx, period)
	if err != nil {
		return err
	}
	if len(challenges) == 0 {
		return c.Reply("no challenge registered for " + period.String())
	}

	target := challenges[0]
	if args := c.Args(); len(args) > 0 {
		gameID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Reply("usage: /leaderboard [game id]")
		}
		found := false
		for _, ch := range challenges {
			if ch.GameID == gameID {
				target, found = ch, true
				break
			}
		}
		if !found {
			return c.Reply(fmt.Sprintf("game %d is not part of %s", gameID, period))
		}
	}

	entries, err := b.deps.Ranker.Monthly(ctx, target.GameID, period)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("%s — %s (%d achievements)", target.Title, period, target.AchievementTotal)
	return c.Reply(formatBoard(header, "cheevos", entries))
}

func (b *Bot) cmdYearly(ctx context.Context, c tele.Context) error {
	year := time.Now().Year()
	if args := c.Args(); len(args) > 0 {
		y, err := strconv.Atoi(args[0])
		if err != nil || y < 2000 || y > 2100 {
			return c.Reply("usage: /yearly [year]")
		}
		year = y
	}
	entries, err := b.deps.Ranker.Yearly(ctx, year)
	if err != nil {
		return err
	}
	return c.Reply(formatBoard(fmt.Sprintf("Yearly standings %d", year), "pts", entries))
}

func (b *Bot) cmdProfile(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("usage: /profile <user>")
	}
	name := challenge.CanonicalName(args[0])
	_, ok, err := b.deps.Store.GetUser(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return c.Reply("unknown user: " + name)
	}

	year := time.Now().Year()
	awards, err := b.deps.Store.AwardsForUser(ctx, name, year)
	if err != nil {
		return err
	}
	total, err := b.deps.Ranker.UserTotal(ctx, name, year)
	if err != nil {
		return err
	}

	var participated, beaten, mastered, manual int
	for _, a := range awards {
		if a.Kind == challenge.KindManual {
			manual++
			continue
		}
		// Higher tiers imply the lower tallies.
		if a.Tier.AtLeast(challenge.TierParticipation) {
			participated++
		}
		if a.Tier.AtLeast(challenge.TierBeaten) {
			beaten++
		}
		if a.Tier.AtLeast(challenge.TierMastered) {
			mastered++
		}
	}
	return c.Reply(fmt.Sprintf(
		"%s in %d\npoints: %d\nparticipated: %d\nbeaten: %d\nmastered: %d\nmanual awards: %d",
		name, year, total, participated, beaten, mastered, manual))
}

func (b *Bot) cmdStatus(ctx context.Context, c tele.Context) error {
	var recent strings.Builder
	hist := b.deps.Queue.History()
	n := 5
	if len(hist) < n {
		n = len(hist)
	}
	for _, h := range hist[len(hist)-n:] {
		fmt.Fprintf(&recent, "\n%s %s %s", h.At.Format("01-02 15:04"),
			tierBadge(h.Event.NewTier), h.Event.User)
	}
	return c.Reply(fmt.Sprintf(
		"active users: %d\ncached checks: %d\nqueued announcements: %d\nrecent:%s",
		b.deps.Pipeline.ActiveCount(), b.deps.Pipeline.CachedCount(),
		b.deps.Queue.Len(), recent.String()))
}

func (b *Bot) cmdTrack(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("usage: /track <user>")
	}
	name := challenge.CanonicalName(args[0])
	if name == "" {
		return c.Reply("usage: /track <user>")
	}
	if err := b.deps.Store.UpsertUser(ctx, challenge.User{Name: name}); err != nil {
		return err
	}
	return c.Reply("tracking " + name)
}

func (b *Bot) cmdAward(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return c.Reply("usage: /award <user> <points> <reason...>")
	}
	points, err := strconv.Atoi(args[1])
	if err != nil {
		return c.Reply("usage: /award <user> <points> <reason...>")
	}
	reason := strings.Join(args[2:], " ")
	period := challenge.PeriodOf(time.Now())
	if err := b.deps.Scorer.AddManual(ctx, args[0], period, points, reason); err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("awarded %d pts to %s (%s)",
		points, challenge.CanonicalName(args[0]), reason))
}

func (b *Bot) cmdRecheck(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("usage: /recheck <user>")
	}
	res, err := b.deps.Pipeline.ForceCheck(ctx, args[0])
	if errors.Is(err, pipeline.ErrCycleInFlight) {
		return c.Reply("a check cycle is running, try again in a moment")
	}
	if err != nil {
		return c.Reply("recheck failed: " + err.Error())
	}
	return c.Reply(fmt.Sprintf("rechecked %s across %d game(s)", res.User, len(res.Games)))
}

func (b *Bot) cmdChallenge(ctx context.Context, c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Reply("usage: /challenge add <game id> [primary|secondary] | /challenge list")
	}
	switch args[0] {
	case "list":
		period := challenge.PeriodOf(time.Now())
		challenges, err := b.deps.Store.ChallengesForPeriod(ctx, period)
		if err != nil {
			return err
		}
		if len(challenges) == 0 {
			return c.Reply("no challenges for " + period.String())
		}
		var b2 strings.Builder
		fmt.Fprintf(&b2, "challenges for %s", period)
		for _, ch := range challenges {
			fmt.Fprintf(&b2, "\n[%s] %s (#%d, %d cheevos)", ch.Type, ch.Title, ch.GameID, ch.AchievementTotal)
		}
		return c.Reply(b2.String())

	case "add":
		if len(args) < 2 {
			return c.Reply("usage: /challenge add <game id> [primary|secondary]")
		}
		gameID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return c.Reply("game id must be a number")
		}
		typ := challenge.TypePrimary
		if len(args) >= 3 && args[2] == "secondary" {
			typ = challenge.TypeSecondary
		}
		ch, err := b.deps.Pipeline.RegisterChallenge(ctx, gameID, challenge.PeriodOf(time.Now()), typ)
		if err != nil {
			return c.Reply("registration failed: " + err.Error())
		}
		return c.Reply(fmt.Sprintf("registered %s (#%d, %d cheevos) as %s challenge",
			ch.Title, ch.GameID, ch.AchievementTotal, ch.Type))

	default:
		return c.Reply("usage: /challenge add <game id> [primary|secondary] | /challenge list")
	}
}
