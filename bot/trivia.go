package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quenby/streamwarden/platform"
)

// triviaRoundTTL is how long a question stays open for answers.
const triviaRoundTTL = 60 * time.Second

// triviaRound is one open question on one platform.
type triviaRound struct {
	question *TriviaQuestion
	askedAt  time.Time
}

// startTrivia opens a round for the platform the command came from.
func (s *Session) startTrivia(msg platform.Message) {
	if round := s.trivia[msg.Platform]; round != nil && s.opts.Now().Sub(round.askedAt) < triviaRoundTTL {
		s.reply(msg.Platform, "a trivia question is already open, answer that one first")
		return
	}
	ctx, cancelOp := s.storeCtx()
	q, err := s.store.RandomTriviaQuestion(ctx, s.userID)
	cancelOp()
	if err != nil {
		s.log.Warn("load trivia question", slog.Any("err", err))
		return
	}
	if q == nil {
		s.reply(msg.Platform, "no trivia questions are set up yet")
		return
	}
	s.trivia[msg.Platform] = &triviaRound{question: q, askedAt: s.opts.Now()}
	s.reply(msg.Platform, fmt.Sprintf("trivia time! %s", q.Question))
}

// tryTriviaAnswer resolves the message as an answer when a round is open
// on its platform. Wrong answers are ignored so chat keeps flowing; a
// correct answer closes the round and pays the reward.
func (s *Session) tryTriviaAnswer(msg platform.Message) bool {
	round := s.trivia[msg.Platform]
	if round == nil {
		return false
	}
	if s.opts.Now().Sub(round.askedAt) >= triviaRoundTTL {
		delete(s.trivia, msg.Platform)
		return false
	}
	guess := strings.TrimSpace(strings.ToLower(msg.Text))
	answer := strings.TrimSpace(strings.ToLower(round.question.Answer))
	if guess == "" || guess != answer {
		return false
	}

	delete(s.trivia, msg.Platform)
	reward := round.question.Reward
	if reward > 0 {
		ctx, cancelOp := s.storeCtx()
		if _, err := s.store.AdjustBalance(ctx, s.userID, msg.Platform, msg.Username, reward); err != nil {
			s.log.Warn("trivia reward", slog.Any("err", err))
		}
		cancelOp()
		s.reply(msg.Platform, fmt.Sprintf("@%s got it! +%d %s", msg.Username, reward, s.currencyName()))
	} else {
		s.reply(msg.Platform, fmt.Sprintf("@%s got it!", msg.Username))
	}
	return true
}

func (s *Session) currencyName() string {
	if s.currency != nil && s.currency.Name != "" {
		return s.currency.Name
	}
	return "points"
}

// reply sends a short pipeline response, logging failures instead of
// propagating them so one bad send never kills dispatch.
func (s *Session) reply(p platform.ID, text string) {
	if err := s.sendText(p, text, "reply"); err != nil {
		s.log.Warn("reply failed", slog.String("platform", string(p)), slog.Any("err", err))
	}
}
