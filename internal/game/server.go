// Package game implements the HuntCin treasure-hunt server and client
// driver atop the RDT 3.0 transport: login table, 3x3 grid movement,
// hint/suggest rationing, round timer, scoring, and broadcast.
//
// Grounded line-for-line on original_source/huntcin_server.py's
// HuntCinServer: one struct owning its state behind a mutex, a background
// poll loop, and sentinel strings reproduced byte-for-byte so replies stay
// wire-compatible across test runs.
package game

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpedroflx/huntcin/internal/logging"
	"github.com/jpedroflx/huntcin/internal/transport"
)

const (
	gridMin = 1
	gridMax = 3

	// DefaultRoundDuration matches the reference's round_secs default.
	DefaultRoundDuration = 10 * time.Second

	// pollTimeout is how long each outer loop iteration waits for a
	// datagram before re-checking the round deadline, matching
	// huntcin_server.py's loop() using rdt.process_incoming(timeout=0.1).
	pollTimeout = 100 * time.Millisecond
)

// Config configures a Server. The zero value is valid: RoundDuration
// defaults to DefaultRoundDuration, Logger to a discard logger, Seed to 0.
type Config struct {
	RoundDuration time.Duration
	Logger        logging.Logger
	Seed          int64
}

func (c Config) withDefaults() Config {
	if c.RoundDuration <= 0 {
		c.RoundDuration = DefaultRoundDuration
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

// Server is the HuntCin game server. All game entity state lives here,
// guarded by mu; it is never touched by the transport.
type Server struct {
	trans *transport.Transport
	cfg   Config
	rng   *rand.Rand

	mu sync.Mutex

	userByAddr map[transport.Addr]string
	addrByUser map[string]transport.Addr
	pos        map[string][2]int
	score      map[string]int

	usedHint    map[string]bool
	usedSuggest map[string]bool

	treasure [2]int

	roundID          int
	roundActiveUsers map[string]bool
	roundSentCmd     map[string]bool
	roundDeadline    time.Time
}

// NewServer creates a Server driving the given transport. The treasure is
// placed immediately at a random cell other than (1,1).
func NewServer(trans *transport.Transport, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		trans:            trans,
		cfg:              cfg,
		rng:              rand.New(rand.NewSource(cfg.Seed)),
		userByAddr:       make(map[transport.Addr]string),
		addrByUser:       make(map[string]transport.Addr),
		pos:              make(map[string][2]int),
		score:            make(map[string]int),
		usedHint:         make(map[string]bool),
		usedSuggest:      make(map[string]bool),
		roundActiveUsers: make(map[string]bool),
		roundSentCmd:     make(map[string]bool),
	}
	s.treasure = s.randomTreasure()
	return s
}

// Run drives the server loop until ctx is cancelled: maybe-start a round,
// poll the transport for one datagram, drain everything delivered, then
// maybe-end the round. Matches huntcin_server.py's loop().
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.startRoundIfNeeded()

		s.trans.Poll(pollTimeout)
		for {
			d, ok := s.trans.Recv()
			if !ok {
				break
			}
			text := string(d.Payload)
			s.handleCommand(d.From, text)
		}

		s.maybeEndRound()
	}
}

func (s *Server) send(addr transport.Addr, msg string) {
	if err := s.trans.Send([]byte(msg), addr); err != nil {
		s.cfg.Logger.Warnf("failed sending to %s: %v", addr, err)
	}
}

func (s *Server) broadcast(msg string) {
	s.mu.Lock()
	addrs := make([]transport.Addr, 0, len(s.userByAddr))
	for addr := range s.userByAddr {
		addrs = append(addrs, addr)
	}
	s.mu.Unlock()

	for _, addr := range addrs {
		s.send(addr, msg)
	}
}

func (s *Server) randomTreasure() [2]int {
	for {
		x := s.rng.Intn(gridMax-gridMin+1) + gridMin
		y := s.rng.Intn(gridMax-gridMin+1) + gridMin
		if !(x == 1 && y == 1) {
			return [2]int{x, y}
		}
	}
}

func clampGrid(x, y int) bool {
	return x >= gridMin && x <= gridMax && y >= gridMin && y <= gridMax
}

// handleCommand tokenizes one delivered message and dispatches it, exactly
// as _handle_command does.
func (s *Server) handleCommand(addr transport.Addr, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	parts := strings.Fields(text)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "login":
		s.handleLogin(addr, parts)
		return
	case "logout":
		s.handleLogout(addr)
		return
	}

	user, ok := s.requireLogin(addr)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.roundActiveUsers[user] {
		s.roundSentCmd[user] = true
	}
	s.mu.Unlock()

	switch cmd {
	case "move":
		if len(parts) != 2 {
			s.send(addr, "[Servidor] Uso: move <up|down|left|right>")
			return
		}
		s.send(addr, s.move(user, strings.ToLower(parts[1])))
	case "hint":
		s.send(addr, s.hint(user))
	case "suggest":
		s.send(addr, s.suggest(user))
	default:
		s.send(addr, "[Servidor] Comando inválido. Use: login/logout/move/hint/suggest")
	}
}

func (s *Server) requireLogin(addr transport.Addr) (string, bool) {
	s.mu.Lock()
	user, ok := s.userByAddr[addr]
	s.mu.Unlock()
	if !ok {
		s.send(addr, "[Servidor] Você precisa fazer login primeiro: login <nome>")
		return "", false
	}
	return user, true
}

func (s *Server) handleLogin(addr transport.Addr, parts []string) {
	if len(parts) != 2 {
		s.send(addr, "[Servidor] Uso: login <nome_do_usuario>")
		return
	}

	name := strings.TrimSpace(parts[1])
	if name == "" {
		s.send(addr, "[Servidor] Nome inválido.")
		return
	}

	s.mu.Lock()
	if existingAddr, taken := s.addrByUser[name]; taken && existingAddr != addr {
		s.mu.Unlock()
		s.send(addr, "[Servidor] Nome já está em uso.")
		return
	}

	// If this address is already logged in under a different name,
	// log it out first (transparent re-login), per
	// original_source/huntcin_server.py's _handle_login.
	if oldName, already := s.userByAddr[addr]; already && oldName != name {
		s.mu.Unlock()
		s.logout(addr)
		s.mu.Lock()
	}

	s.userByAddr[addr] = name
	s.addrByUser[name] = addr
	if _, exists := s.score[name]; !exists {
		s.score[name] = 0
	}
	s.pos[name] = [2]int{1, 1}
	s.mu.Unlock()

	s.send(addr, "você está online!")
	s.broadcast(fmt.Sprintf("[Servidor] %s:%d entrou no jogo.", name, addr.Port))
}

func (s *Server) handleLogout(addr transport.Addr) {
	s.mu.Lock()
	_, ok := s.userByAddr[addr]
	s.mu.Unlock()
	if !ok {
		s.send(addr, "[Servidor] Você não está logado.")
		return
	}
	s.logout(addr)
}

// logout removes all state for addr's user and broadcasts the departure
// notice. Called both from the explicit "logout" command and from
// handleLogin's transparent re-login path.
func (s *Server) logout(addr transport.Addr) {
	s.mu.Lock()
	user, ok := s.userByAddr[addr]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.userByAddr, addr)
	delete(s.addrByUser, user)
	delete(s.pos, user)
	delete(s.usedHint, user)
	delete(s.usedSuggest, user)
	delete(s.roundActiveUsers, user)
	delete(s.roundSentCmd, user)
	s.mu.Unlock()

	s.broadcast(fmt.Sprintf("[Servidor] %s:%d saiu do jogo.", user, addr.Port))
}

func (s *Server) move(user, direction string) string {
	s.mu.Lock()
	x, y := s.posOr11(user)
	nx, ny := x, y
	switch direction {
	case "up":
		ny++
	case "down":
		ny--
	case "left":
		nx--
	case "right":
		nx++
	default:
		s.mu.Unlock()
		return "[Servidor] Direção inválida. Use: move up|down|left|right"
	}

	if !clampGrid(nx, ny) {
		s.mu.Unlock()
		return "[Servidor] Movimento inválido: fora do grid 3x3."
	}

	s.pos[user] = [2]int{nx, ny}
	s.mu.Unlock()
	return fmt.Sprintf("[Servidor] %s agora está em (%d,%d).", user, nx, ny)
}

// posOr11 reads pos[user] defaulting to (1,1) if absent. Callers must hold
// s.mu.
func (s *Server) posOr11(user string) (int, int) {
	p, ok := s.pos[user]
	if !ok {
		return 1, 1
	}
	return p[0], p[1]
}

func (s *Server) hint(user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usedHint[user] {
		return "[Servidor] Você já usou sua dica (hint) nesta partida."
	}
	s.usedHint[user] = true

	px, py := s.posOr11(user)
	tx, ty := s.treasure[0], s.treasure[1]

	switch {
	case py < ty:
		return "O tesouro está mais acima."
	case px < tx:
		return "O tesouro está mais à direita."
	case py > ty:
		return "O tesouro está mais abaixo."
	case px > tx:
		return "O tesouro está mais à esquerda."
	default:
		return "Você está alinhado com o tesouro de alguma forma... continue!"
	}
}

func (s *Server) suggest(user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usedSuggest[user] {
		return "[Servidor] Você já usou sua sugestão (suggest) nesta partida."
	}
	s.usedSuggest[user] = true

	px, py := s.posOr11(user)
	tx, ty := s.treasure[0], s.treasure[1]
	dx := tx - px
	dy := ty - py

	// Strongest axis wins; ties (|dy| == |dx| != 0) go to the y-axis.
	if abs(dy) >= abs(dx) && dy != 0 {
		if dy > 0 {
			return fmt.Sprintf("Sugestão: move up %d casas.", abs(dy))
		}
		return fmt.Sprintf("Sugestão: move down %d casas.", abs(dy))
	}
	if dx != 0 {
		if dx > 0 {
			return fmt.Sprintf("Sugestão: move right %d casas.", abs(dx))
		}
		return fmt.Sprintf("Sugestão: move left %d casas.", abs(dx))
	}
	return "Sugestão: você já está no tesouro (ou muito perto)."
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// stateLine renders the broadcast-on-round-end state summary, sorted by
// username for determinism (the Python original sorts its dict keys the
// same way via sorted(self.pos.keys())).
func (s *Server) stateLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLineLocked()
}

func (s *Server) stateLineLocked() string {
	users := make([]string, 0, len(s.pos))
	for user := range s.pos {
		users = append(users, user)
	}
	sort.Strings(users)

	parts := make([]string, 0, len(users))
	for _, user := range users {
		p := s.pos[user]
		parts = append(parts, fmt.Sprintf("%s(%d,%d)[%d]", user, p[0], p[1], s.score[user]))
	}
	return "[Servidor] Estado atual: " + strings.Join(parts, ", ")
}

// checkWinnerLocked reports the first user (by sorted name, for
// determinism) standing on the treasure. Callers must hold s.mu.
func (s *Server) checkWinnerLocked() (string, bool) {
	users := make([]string, 0, len(s.pos))
	for user := range s.pos {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		p := s.pos[user]
		if p[0] == s.treasure[0] && p[1] == s.treasure[1] {
			return user, true
		}
	}
	return "", false
}

// newMatchLocked re-randomizes the treasure and resets every logged-in
// user's position and one-shot flags. Callers must hold s.mu.
func (s *Server) newMatchLocked() {
	s.treasure = s.randomTreasure()
	s.usedHint = make(map[string]bool)
	s.usedSuggest = make(map[string]bool)
	for user := range s.pos {
		s.pos[user] = [2]int{1, 1}
	}
}

// startRoundIfNeeded transitions Idle -> Running on the first tick where at
// least one user is logged in and the deadline has passed, matching
// _start_round_if_needed.
func (s *Server) startRoundIfNeeded() {
	s.mu.Lock()
	if len(s.userByAddr) == 0 {
		s.mu.Unlock()
		return
	}
	if time.Now().Before(s.roundDeadline) {
		s.mu.Unlock()
		return
	}

	s.roundID++
	active := make(map[string]bool, len(s.addrByUser))
	for user := range s.addrByUser {
		active[user] = true
	}
	s.roundActiveUsers = active
	s.roundSentCmd = make(map[string]bool)
	s.roundDeadline = time.Now().Add(s.cfg.RoundDuration)
	roundID := s.roundID
	secs := int(s.cfg.RoundDuration / time.Second)
	s.mu.Unlock()

	s.broadcast(fmt.Sprintf("[Servidor] Início da rodada %d! Envie um comando em até %ds.", roundID, secs))
}

// maybeEndRound transitions Running -> Idle once the deadline has passed
// and at least one user is logged in, matching the tail of loop() /
// _end_round.
func (s *Server) maybeEndRound() {
	s.mu.Lock()
	if len(s.userByAddr) == 0 || s.roundDeadline.IsZero() || time.Now().Before(s.roundDeadline) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.endRound()
}

func (s *Server) endRound() {
	s.mu.Lock()
	missing := make([]string, 0)
	for user := range s.roundActiveUsers {
		if !s.roundSentCmd[user] {
			missing = append(missing, user)
		}
	}
	sort.Strings(missing)
	addrsFor := make([]transport.Addr, 0, len(missing))
	for _, user := range missing {
		if addr, ok := s.addrByUser[user]; ok {
			addrsFor = append(addrsFor, addr)
		}
	}
	s.mu.Unlock()

	for _, addr := range addrsFor {
		s.send(addr, "[Servidor] Você foi eliminado desta rodada por não enviar comando a tempo.")
	}

	s.broadcast(s.stateLine())

	s.mu.Lock()
	winner, won := s.checkWinnerLocked()
	var winnerAddr transport.Addr
	var newScore int
	var treasure [2]int
	if won {
		winnerAddr = s.addrByUser[winner]
		s.score[winner]++
		newScore = s.score[winner]
		treasure = s.treasure
	}
	s.mu.Unlock()

	if won {
		s.broadcast(fmt.Sprintf("[Servidor] O jogador %s:%d encontrou o tesouro na posição (%d,%d)!", winner, winnerAddr.Port, treasure[0], treasure[1]))
		s.broadcast(fmt.Sprintf("[Servidor] Pontuação: %s = %d", winner, newScore))
		s.mu.Lock()
		s.newMatchLocked()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.roundDeadline = time.Time{}
	s.roundActiveUsers = make(map[string]bool)
	s.roundSentCmd = make(map[string]bool)
	s.mu.Unlock()
}
