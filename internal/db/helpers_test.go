//go:build testutil
// +build testutil

package db_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Spok95/school-backend/internal/db"
	"github.com/Spok95/school-backend/internal/models"
	"github.com/Spok95/school-backend/internal/testutil/testdb"
)

var seq atomic.Int64

func startDB(t *testing.T) *testdb.DBHandle {
	t.Helper()
	h, err := testdb.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h
}

func mustSeedUser(t *testing.T, repo *db.UserRepo, role models.Role) *models.User {
	t.Helper()
	n := seq.Add(1)
	u := models.User{
		Email:        fmt.Sprintf("user%d@school.test", n),
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplaceho",
		FirstName:    "Имя",
		LastName:     fmt.Sprintf("Фамилия%d", n),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	var sp *models.StudentProfile
	if role == models.Student {
		sp = &models.StudentProfile{GradeLevel: 7}
	}
	created, err := repo.CreateWithProfile(context.Background(), u, sp, nil)
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func mustSeedAssessment(t *testing.T, repo *db.AssessmentRepo, ownerID int64, maxAttempts int) *models.Assessment {
	t.Helper()
	a, err := repo.Create(context.Background(), models.Assessment{
		Title:           "Дроби",
		Subject:         "Математика",
		GradeLevel:      7,
		Difficulty:      models.DifficultyMedium,
		DurationMinutes: 30,
		PassingScore:    60,
		MaxAttempts:     maxAttempts,
		CreatedBy:       ownerID,
	}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	return a
}
