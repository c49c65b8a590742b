package services

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
)

// ChallengeQuestionCount is how many catalog questions a login challenge asks
const ChallengeQuestionCount = 2

type SecurityQuestion struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

var securityQuestionCatalog = map[models.UserRole][]SecurityQuestion{
	models.RoleStudent: {
		{Key: "first_school", Text: "What is the name of your first school?"},
		{Key: "favourite_subject", Text: "What is your favourite subject?"},
		{Key: "best_friend", Text: "What is the first name of your best friend?"},
	},
	models.RoleTeacher: {
		{Key: "first_posting", Text: "In which city was your first teaching job?"},
		{Key: "favourite_teacher", Text: "What was the name of your favourite teacher?"},
		{Key: "degree_college", Text: "Which college did you complete your degree from?"},
	},
	models.RoleHOD: {
		{Key: "department_joined", Text: "In which year did you join the department?"},
		{Key: "mentor_name", Text: "What is the name of your first mentor?"},
		{Key: "first_subject", Text: "What was the first subject you taught?"},
	},
	models.RoleAdmin: {
		{Key: "birth_city", Text: "In which city were you born?"},
		{Key: "first_employer", Text: "What was the name of your first employer?"},
		{Key: "childhood_nickname", Text: "What was your childhood nickname?"},
	},
}

// SecurityQuestionSet samples challenge questions from the per-role catalog
type SecurityQuestionSet struct {
	mu      sync.Mutex
	rng     *rand.Rand
	catalog map[models.UserRole][]SecurityQuestion
}

func NewSecurityQuestionSet(source rand.Source) *SecurityQuestionSet {
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	return &SecurityQuestionSet{
		rng:     rand.New(source),
		catalog: securityQuestionCatalog,
	}
}

// Catalog returns every question configured for a role
func (s *SecurityQuestionSet) Catalog(role models.UserRole) ([]SecurityQuestion, error) {
	questions, ok := s.catalog[role]
	if !ok {
		return nil, ErrInvalidRole
	}
	out := make([]SecurityQuestion, len(questions))
	copy(out, questions)
	return out, nil
}

// Sample picks n distinct questions for a role
func (s *SecurityQuestionSet) Sample(role models.UserRole, n int) ([]SecurityQuestion, error) {
	questions, err := s.Catalog(role)
	if err != nil {
		return nil, err
	}
	if n > len(questions) {
		n = len(questions)
	}

	s.mu.Lock()
	order := s.rng.Perm(len(questions))
	s.mu.Unlock()

	picked := make([]SecurityQuestion, 0, n)
	for _, idx := range order[:n] {
		picked = append(picked, questions[idx])
	}
	return picked, nil
}

func (s *SecurityQuestionSet) Lookup(role models.UserRole, key string) (SecurityQuestion, bool) {
	for _, q := range s.catalog[role] {
		if q.Key == key {
			return q, true
		}
	}
	return SecurityQuestion{}, false
}
