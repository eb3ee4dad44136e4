package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edupanel/identity-api/internal/models"
)

// GraphChanges describes the profile-side effects requested alongside a user
// write. Materialize gates profile creation; SetMappings gates mapping writes.
type GraphChanges struct {
	Materialize  bool
	Relationship *string
	StudentIDs   []int64
	SetMappings  bool
	Mode         models.MappingMode
}

// ProfileRepository is the sole writer of role profiles and parent-student
// mappings. Multi-entity mutations run inside a single transaction so either
// all rows commit or none do.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new instance of ProfileRepository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ExistingStudentUserIDs returns the subset of ids that reference users with
// role student.
func (r *ProfileRepository) ExistingStudentUserIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	found := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	const query = `SELECT id FROM users WHERE id = ANY($1) AND role = 'student'`
	var rows []int64
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("select student user ids: %w", err)
	}
	for _, id := range rows {
		found[id] = struct{}{}
	}
	return found, nil
}

// CreateUserGraph inserts the user row and, when requested, the role profile
// and parent-student mappings in one transaction.
func (r *ProfileRepository) CreateUserGraph(ctx context.Context, user *models.User, changes GraphChanges) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user graph: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const insertUser = `INSERT INTO users (username, email, password_hash, role, is_active, is_approved, phone_number, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err = tx.QueryRowxContext(ctx, insertUser,
		user.Username, user.Email, user.PasswordHash, user.Role,
		user.IsActive, user.IsApproved, user.PhoneNumber,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if changes.Materialize {
		if err = r.applyProfile(ctx, tx, user, changes, now); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create user graph: %w", err)
	}
	return nil
}

// UpdateUserGraph updates the user row and applies the requested profile and
// mapping changes in one transaction. Profiles belonging to roles the user no
// longer holds are left untouched.
func (r *ProfileRepository) UpdateUserGraph(ctx context.Context, user *models.User, changes GraphChanges) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update user graph: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	user.UpdatedAt = now

	const updateUser = `UPDATE users SET username = $2, email = $3, role = $4, is_active = $5, is_approved = $6, phone_number = $7, updated_at = $8 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateUser,
		user.ID, user.Username, user.Email, user.Role,
		user.IsActive, user.IsApproved, user.PhoneNumber, user.UpdatedAt,
	); err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update user: %w", err)
	}

	if changes.Materialize {
		if err = r.applyProfile(ctx, tx, user, changes, now); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update user graph: %w", err)
	}
	return nil
}

// applyProfile get-or-creates the profile matching the user's role and, for
// parents, updates the relationship and mapping set.
func (r *ProfileRepository) applyProfile(ctx context.Context, tx *sqlx.Tx, user *models.User, changes GraphChanges, now time.Time) error {
	switch user.Role {
	case models.RoleStudent:
		_, err := ensureProfile(ctx, tx, "student_profiles", user.ID, now)
		return err
	case models.RoleTeacher:
		_, err := ensureProfile(ctx, tx, "teacher_profiles", user.ID, now)
		return err
	case models.RoleParent:
		relationship := ""
		if changes.Relationship != nil {
			relationship = *changes.Relationship
		}
		parentID, err := r.ensureParentProfile(ctx, tx, user.ID, relationship, now)
		if err != nil {
			return err
		}
		if changes.SetMappings {
			return r.writeMappings(ctx, tx, parentID, changes.StudentIDs, changes.Mode, now)
		}
		return nil
	case models.RoleAdmin, models.RoleGuest:
		return nil
	}
	return fmt.Errorf("unknown role %q", user.Role)
}

// ensureProfile returns the profile id for the user, creating the row when it
// does not exist yet. Used for the student and teacher profile tables, which
// share a shape.
func ensureProfile(ctx context.Context, tx *sqlx.Tx, table string, userID int64, now time.Time) (int64, error) {
	var id int64
	selectQuery := fmt.Sprintf(`SELECT id FROM %s WHERE user_id = $1`, table)
	err := tx.GetContext(ctx, &id, selectQuery, userID)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("select %s: %w", table, err)
	}
	insertQuery := fmt.Sprintf(`INSERT INTO %s (user_id, enrollment_date) VALUES ($1, $2) RETURNING id`, table)
	if err := tx.QueryRowxContext(ctx, insertQuery, userID, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

func (r *ProfileRepository) ensureParentProfile(ctx context.Context, tx *sqlx.Tx, userID int64, relationship string, now time.Time) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `SELECT id FROM parent_profiles WHERE user_id = $1`, userID)
	if err == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE parent_profiles SET relationship = $2 WHERE id = $1`, id, relationship); err != nil {
			return 0, fmt.Errorf("update parent profile: %w", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("select parent profile: %w", err)
	}
	if err := tx.QueryRowxContext(ctx, `INSERT INTO parent_profiles (user_id, relationship) VALUES ($1, $2) RETURNING id`, userID, relationship).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert parent profile: %w", err)
	}
	return id, nil
}

// writeMappings replaces or extends the parent's mapping set, inserting one
// row per student id in input order. Student profile rows are materialized on
// demand so a mapping never dangles.
func (r *ProfileRepository) writeMappings(ctx context.Context, tx *sqlx.Tx, parentProfileID int64, studentUserIDs []int64, mode models.MappingMode, now time.Time) error {
	if mode == models.MappingReplace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM parent_student_mappings WHERE parent_profile_id = $1`, parentProfileID); err != nil {
			return fmt.Errorf("delete parent mappings: %w", err)
		}
	}
	for _, studentUserID := range studentUserIDs {
		studentProfileID, err := ensureProfile(ctx, tx, "student_profiles", studentUserID, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO parent_student_mappings (parent_profile_id, student_profile_id) VALUES ($1, $2)`, parentProfileID, studentProfileID); err != nil {
			return fmt.Errorf("insert parent mapping: %w", err)
		}
	}
	return nil
}

// StudentProfileByUserID loads the student profile for a user.
func (r *ProfileRepository) StudentProfileByUserID(ctx context.Context, userID int64) (*models.StudentProfile, error) {
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, `SELECT id, user_id, enrollment_date FROM student_profiles WHERE user_id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student profile: %w", err)
	}
	return &profile, nil
}

// TeacherProfileByUserID loads the teacher profile for a user.
func (r *ProfileRepository) TeacherProfileByUserID(ctx context.Context, userID int64) (*models.TeacherProfile, error) {
	var profile models.TeacherProfile
	if err := r.db.GetContext(ctx, &profile, `SELECT id, user_id, enrollment_date FROM teacher_profiles WHERE user_id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher profile: %w", err)
	}
	return &profile, nil
}

// ParentProfileByUserID loads the parent profile for a user.
func (r *ProfileRepository) ParentProfileByUserID(ctx context.Context, userID int64) (*models.ParentProfile, error) {
	var profile models.ParentProfile
	if err := r.db.GetContext(ctx, &profile, `SELECT id, user_id, relationship FROM parent_profiles WHERE user_id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find parent profile: %w", err)
	}
	return &profile, nil
}

// StudentsForParent returns summaries for every student mapped to the parent
// profile, one entry per mapping row.
func (r *ProfileRepository) StudentsForParent(ctx context.Context, parentProfileID int64) ([]models.StudentSummary, error) {
	const query = `SELECT u.id, u.username, u.email, sp.enrollment_date
FROM parent_student_mappings m
JOIN student_profiles sp ON sp.id = m.student_profile_id
JOIN users u ON u.id = sp.user_id
WHERE m.parent_profile_id = $1
ORDER BY m.id ASC`
	var students []models.StudentSummary
	if err := r.db.SelectContext(ctx, &students, query, parentProfileID); err != nil {
		return nil, fmt.Errorf("list students for parent: %w", err)
	}
	return students, nil
}

// SetParentMappings rewrites (REPLACE) or extends (ADD) the mapping set for a
// parent profile in one transaction.
func (r *ProfileRepository) SetParentMappings(ctx context.Context, parentProfileID int64, studentUserIDs []int64, mode models.MappingMode) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set parent mappings: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.writeMappings(ctx, tx, parentProfileID, studentUserIDs, mode, time.Now().UTC()); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set parent mappings: %w", err)
	}
	return nil
}
