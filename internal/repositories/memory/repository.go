// Package memory is an in-process implementation of repositories.Repository.
// It backs the service and handler tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
)

type state struct {
	identities     map[string]*models.Identity
	sessions       map[string]*models.AuthSession
	profiles       map[models.UserRole]map[string]*models.RoleProfile
	approvals      map[string]*models.TeacherApproval
	approvalSeq    uint
	answers        map[string]*models.SecurityAnswer
	answerSeq      uint
	chatSessions   map[string]*models.ChatSession
	messages       []*models.ChatMessage
	messageSeq     int64
	failMessageFor map[models.SenderRole]error
}

func newState() *state {
	s := &state{
		identities:     make(map[string]*models.Identity),
		sessions:       make(map[string]*models.AuthSession),
		profiles:       make(map[models.UserRole]map[string]*models.RoleProfile),
		approvals:      make(map[string]*models.TeacherApproval),
		answers:        make(map[string]*models.SecurityAnswer),
		chatSessions:   make(map[string]*models.ChatSession),
		failMessageFor: make(map[models.SenderRole]error),
	}
	for _, role := range models.AllRoles {
		s.profiles[role] = make(map[string]*models.RoleProfile)
	}
	return s
}

// clone copies the state deeply enough for WithTransaction to roll back
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.identities {
		cp := *v
		c.identities[k] = &cp
	}
	for k, v := range s.sessions {
		cp := *v
		c.sessions[k] = &cp
	}
	for role, rows := range s.profiles {
		for k, v := range rows {
			c.profiles[role][k] = copyProfile(v)
		}
	}
	for k, v := range s.approvals {
		cp := *v
		c.approvals[k] = &cp
	}
	for k, v := range s.answers {
		cp := *v
		c.answers[k] = &cp
	}
	for k, v := range s.chatSessions {
		cp := *v
		c.chatSessions[k] = &cp
	}
	for _, m := range s.messages {
		cp := *m
		c.messages = append(c.messages, &cp)
	}
	for k, v := range s.failMessageFor {
		c.failMessageFor[k] = v
	}
	c.approvalSeq = s.approvalSeq
	c.answerSeq = s.answerSeq
	c.messageSeq = s.messageSeq
	return c
}

// Repository keeps every store in maps guarded by a single mutex
type Repository struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

func NewRepository() *Repository {
	return &Repository{st: newState(), now: time.Now}
}

// NewRepositoryWithClock is NewRepository with a controllable clock for timestamps
func NewRepositoryWithClock(now func() time.Time) *Repository {
	return &Repository{st: newState(), now: now}
}

func (r *Repository) Identity() repositories.IdentityRepository { return identityRepo{r} }

func (r *Repository) Profile() repositories.ProfileRepository { return profileRepo{r} }

func (r *Repository) Approval() repositories.TeacherApprovalRepository { return approvalRepo{r} }

func (r *Repository) SecurityAnswer() repositories.SecurityAnswerRepository {
	return securityAnswerRepo{r}
}

func (r *Repository) Chat() repositories.ChatRepository { return chatRepo{r} }

// WithTransaction restores the previous state when fn fails
func (r *Repository) WithTransaction(ctx context.Context, fn func(tx repositories.Repository) error) error {
	r.mu.RLock()
	snapshot := r.st.clone()
	r.mu.RUnlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.st = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// FailMessagesFrom makes CreateMessage fail for messages from the given sender
func (r *Repository) FailMessagesFrom(sender models.SenderRole, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.failMessageFor[sender] = err
}

// MessageCount returns the number of stored messages for a session
func (r *Repository) MessageCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.st.messages {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (r *Repository) state() *state { return r.st }

func copyProfile(p *models.RoleProfile) *models.RoleProfile {
	cp := *p
	cp.Fields = make(map[string]interface{}, len(p.Fields))
	for k, v := range p.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

func stamp(created *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
}

// ===== IDENTITIES =====

type identityRepo struct{ r *Repository }

func (i identityRepo) Create(ctx context.Context, identity *models.Identity) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()
	st := i.r.state()
	for _, existing := range st.identities {
		if strings.EqualFold(existing.Email, identity.Email) {
			return repositories.ErrDuplicate
		}
	}
	now := i.r.now()
	stamp(&identity.CreatedAt, now)
	identity.UpdatedAt = now
	cp := *identity
	st.identities[identity.ID] = &cp
	return nil
}

func (i identityRepo) find(match func(*models.Identity) bool) (*models.Identity, error) {
	i.r.mu.RLock()
	defer i.r.mu.RUnlock()
	for _, identity := range i.r.state().identities {
		if match(identity) {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (i identityRepo) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	return i.find(func(x *models.Identity) bool { return x.ID == id })
}

func (i identityRepo) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return i.find(func(x *models.Identity) bool { return strings.EqualFold(x.Email, email) })
}

func (i identityRepo) GetByConfirmationToken(ctx context.Context, token string) (*models.Identity, error) {
	return i.find(func(x *models.Identity) bool {
		return x.ConfirmationToken != nil && *x.ConfirmationToken == token
	})
}

func (i identityRepo) GetByResetToken(ctx context.Context, token string) (*models.Identity, error) {
	return i.find(func(x *models.Identity) bool {
		return x.ResetToken != nil && *x.ResetToken == token
	})
}

func (i identityRepo) Update(ctx context.Context, identity *models.Identity) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()
	st := i.r.state()
	if _, ok := st.identities[identity.ID]; !ok {
		return repositories.ErrNotFound
	}
	identity.UpdatedAt = i.r.now()
	cp := *identity
	st.identities[identity.ID] = &cp
	return nil
}

func (i identityRepo) CreateSession(ctx context.Context, session *models.AuthSession) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()
	stamp(&session.CreatedAt, i.r.now())
	cp := *session
	i.r.state().sessions[session.ID] = &cp
	return nil
}

func (i identityRepo) GetSession(ctx context.Context, id string) (*models.AuthSession, error) {
	i.r.mu.RLock()
	defer i.r.mu.RUnlock()
	session, ok := i.r.state().sessions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (i identityRepo) GetSessionByRefreshHash(ctx context.Context, hash string) (*models.AuthSession, error) {
	i.r.mu.RLock()
	defer i.r.mu.RUnlock()
	for _, session := range i.r.state().sessions {
		if session.RefreshTokenHash == hash {
			cp := *session
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (i identityRepo) RevokeSession(ctx context.Context, id string, at time.Time) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()
	session, ok := i.r.state().sessions[id]
	if !ok {
		return nil
	}
	if session.RevokedAt == nil {
		revoked := at
		session.RevokedAt = &revoked
	}
	return nil
}

// ===== PROFILES =====

type profileRepo struct{ r *Repository }

func (p profileRepo) table(role models.UserRole) (map[string]*models.RoleProfile, error) {
	rows, ok := p.r.state().profiles[role]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return rows, nil
}

func (p profileRepo) Get(ctx context.Context, role models.UserRole, identityID string) (*models.RoleProfile, error) {
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	rows, err := p.table(role)
	if err != nil {
		return nil, err
	}
	profile, ok := rows[identityID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return copyProfile(profile), nil
}

func (p profileRepo) GetByEmail(ctx context.Context, role models.UserRole, email string) (*models.RoleProfile, error) {
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	rows, err := p.table(role)
	if err != nil {
		return nil, err
	}
	for _, profile := range rows {
		if strings.EqualFold(profile.Email, email) {
			return copyProfile(profile), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (p profileRepo) FindAll(ctx context.Context, identityID string) ([]*models.RoleProfile, error) {
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	var profiles []*models.RoleProfile
	for _, role := range models.AllRoles {
		if profile, ok := p.r.state().profiles[role][identityID]; ok {
			profiles = append(profiles, copyProfile(profile))
		}
	}
	return profiles, nil
}

func (p profileRepo) Create(ctx context.Context, profile *models.RoleProfile) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	rows, err := p.table(profile.Role)
	if err != nil {
		return err
	}
	if _, ok := rows[profile.ID]; ok {
		return repositories.ErrDuplicate
	}
	for _, existing := range rows {
		if strings.EqualFold(existing.Email, profile.Email) {
			return repositories.ErrDuplicate
		}
	}
	now := p.r.now()
	stamp(&profile.CreatedAt, now)
	profile.UpdatedAt = now
	if profile.Fields == nil {
		profile.Fields = map[string]interface{}{}
	}
	rows[profile.ID] = copyProfile(profile)
	return nil
}

func (p profileRepo) Update(ctx context.Context, profile *models.RoleProfile) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	rows, err := p.table(profile.Role)
	if err != nil {
		return err
	}
	if _, ok := rows[profile.ID]; !ok {
		return repositories.ErrNotFound
	}
	profile.UpdatedAt = p.r.now()
	if profile.Fields == nil {
		profile.Fields = map[string]interface{}{}
	}
	rows[profile.ID] = copyProfile(profile)
	return nil
}

func (p profileRepo) UpdateStatus(ctx context.Context, role models.UserRole, identityID string, status models.ProfileStatus) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	rows, err := p.table(role)
	if err != nil {
		return err
	}
	profile, ok := rows[identityID]
	if !ok {
		return repositories.ErrNotFound
	}
	profile.Status = status
	profile.UpdatedAt = p.r.now()
	return nil
}

func (p profileRepo) UpdateStatusByEmail(ctx context.Context, role models.UserRole, email string, status models.ProfileStatus) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	rows, err := p.table(role)
	if err != nil {
		return err
	}
	for _, profile := range rows {
		if strings.EqualFold(profile.Email, email) {
			profile.Status = status
			profile.UpdatedAt = p.r.now()
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (p profileRepo) IncrementMessageCount(ctx context.Context, studentID string) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	profile, ok := p.r.state().profiles[models.RoleStudent][studentID]
	if !ok {
		return repositories.ErrNotFound
	}
	count, _ := profile.Fields["message_count"].(int)
	profile.Fields["message_count"] = count + 1
	return nil
}

// ===== TEACHER APPROVALS =====

type approvalRepo struct{ r *Repository }

func (a approvalRepo) Create(ctx context.Context, approval *models.TeacherApproval) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	st := a.r.state()
	key := strings.ToLower(approval.TeacherEmail)
	if _, ok := st.approvals[key]; ok {
		return repositories.ErrDuplicate
	}
	st.approvalSeq++
	approval.ID = st.approvalSeq
	now := a.r.now()
	stamp(&approval.CreatedAt, now)
	approval.UpdatedAt = now
	if approval.Status == "" {
		approval.Status = models.ApprovalPending
	}
	cp := *approval
	st.approvals[key] = &cp
	return nil
}

func (a approvalRepo) GetByEmail(ctx context.Context, email string) (*models.TeacherApproval, error) {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	approval, ok := a.r.state().approvals[strings.ToLower(email)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *approval
	return &cp, nil
}

func (a approvalRepo) Update(ctx context.Context, approval *models.TeacherApproval) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	st := a.r.state()
	key := strings.ToLower(approval.TeacherEmail)
	if _, ok := st.approvals[key]; !ok {
		return repositories.ErrNotFound
	}
	approval.UpdatedAt = a.r.now()
	cp := *approval
	st.approvals[key] = &cp
	return nil
}

func (a approvalRepo) List(ctx context.Context, filters repositories.ApprovalFilters) ([]*models.TeacherApproval, int64, error) {
	a.r.mu.RLock()
	defer a.r.mu.RUnlock()
	var out []*models.TeacherApproval
	for _, approval := range a.r.state().approvals {
		if filters.Status != nil && approval.Status != *filters.Status {
			continue
		}
		cp := *approval
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if filters.SortOrder == "asc" {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	total := int64(len(out))
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			out = nil
		} else {
			out = out[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

// ===== SECURITY ANSWERS =====

type securityAnswerRepo struct{ r *Repository }

func answerKey(identityID string, role models.UserRole, question string) string {
	return identityID + "|" + string(role) + "|" + question
}

func (s securityAnswerRepo) Upsert(ctx context.Context, answer *models.SecurityAnswer) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	st := s.r.state()
	key := answerKey(answer.IdentityID, answer.Role, answer.QuestionKey)
	now := s.r.now()
	if existing, ok := st.answers[key]; ok {
		existing.AnswerHash = answer.AnswerHash
		existing.UpdatedAt = now
		*answer = *existing
		return nil
	}
	st.answerSeq++
	answer.ID = st.answerSeq
	stamp(&answer.CreatedAt, now)
	answer.UpdatedAt = now
	cp := *answer
	st.answers[key] = &cp
	return nil
}

func (s securityAnswerRepo) GetForIdentity(ctx context.Context, identityID string, role models.UserRole) ([]*models.SecurityAnswer, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	var out []*models.SecurityAnswer
	for _, answer := range s.r.state().answers {
		if answer.IdentityID == identityID && answer.Role == role {
			cp := *answer
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionKey < out[j].QuestionKey })
	return out, nil
}

// ===== CHAT =====

type chatRepo struct{ r *Repository }

func (c chatRepo) CreateSession(ctx context.Context, session *models.ChatSession) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	st := c.r.state()
	if _, ok := st.chatSessions[session.ID]; ok {
		return repositories.ErrDuplicate
	}
	stamp(&session.CreatedAt, c.r.now())
	cp := *session
	st.chatSessions[session.ID] = &cp
	return nil
}

func (c chatRepo) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	session, ok := c.r.state().chatSessions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (c chatRepo) ListSessions(ctx context.Context, userID string, persona models.ChatPersona) ([]*models.ChatSession, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	var out []*models.ChatSession
	for _, session := range c.r.state().chatSessions {
		if session.UserID != nil && *session.UserID == userID && session.Persona == persona {
			cp := *session
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c chatRepo) CreateMessage(ctx context.Context, message *models.ChatMessage) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	st := c.r.state()
	if err := st.failMessageFor[message.SenderRole]; err != nil {
		return err
	}
	if message.Body.Kind != "" {
		message.Content = message.Body.Encode()
	}
	st.messageSeq++
	message.Seq = st.messageSeq
	stamp(&message.CreatedAt, c.r.now())
	cp := *message
	st.messages = append(st.messages, &cp)
	return nil
}

func (c chatRepo) ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	var out []*models.ChatMessage
	for _, m := range c.r.state().messages {
		if m.SessionID == sessionID {
			cp := *m
			cp.Body = models.DecodeContent(cp.Content)
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c chatRepo) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	st := c.r.state()
	kept := st.messages[:0]
	var removed int64
	for _, m := range st.messages {
		if m.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	st.messages = kept
	return removed, nil
}
