package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/command"
	"github.com/jonwraymond/reqcache/resilience"
)

// Profile holds a user's contact details.
type Profile struct {
	Email string `gorm:"column:email;uniqueIndex" json:"email"`
}

// User is a row of the users table.
type User struct {
	ID      string  `gorm:"primaryKey" json:"id"`
	Name    string  `json:"name"`
	Profile Profile `gorm:"embedded" json:"profile"`
}

var (
	errNotFound = errors.New("usersvc: user not found")
	errConflict = errors.New("usersvc: user already exists")
)

// userService exposes the users table as request-cached commands.
type userService struct {
	db *gorm.DB

	getByID       *command.ReadCommand[User]
	getByEmail    *command.ReadCommand[User]
	createUser    *command.WriteCommand
	updateUser    *command.WriteCommand
	updateProfile *command.WriteCommand
}

func newUserService(db *gorm.DB, runner *command.Runner) (*userService, error) {
	s := &userService{db: db}
	var err error

	s.getByID, err = command.RegisterRead(runner, command.Read[User]{
		Group:   "users",
		Name:    "getUserById",
		Key:     cache.ArgKey("id"),
		Execute: s.loadByID,
	})
	if err != nil {
		return nil, err
	}

	// Emails are stored lower-cased, so lookups that differ only in case
	// share one entry.
	s.getByEmail, err = command.RegisterRead(runner, command.Read[User]{
		Group:   "users",
		Name:    "getUserByEmail",
		Key:     cache.FuncKeyOf("email", strings.ToLower),
		Execute: s.loadByEmail,
	})
	if err != nil {
		return nil, err
	}

	s.createUser, err = command.RegisterWrite(runner, command.Write{
		Group:   "users",
		Name:    "createUser",
		Target:  s.getByID.ID(),
		Keys:    []cache.KeySpec{cache.PathKey("user", "id")},
		Execute: s.insert,
	})
	if err != nil {
		return nil, err
	}

	s.updateUser, err = command.RegisterWrite(runner, command.Write{
		Group:   "users",
		Name:    "updateUser",
		Target:  s.getByID.ID(),
		Keys:    []cache.KeySpec{cache.PathKey("user", "id")},
		Execute: s.saveName,
	})
	if err != nil {
		return nil, err
	}

	// The old address comes from the stored user, the new one from the
	// request; both entries are dropped.
	s.updateProfile, err = command.RegisterWrite(runner, command.Write{
		Group:  "users",
		Name:   "updateProfile",
		Target: s.getByEmail.ID(),
		Keys: []cache.KeySpec{
			cache.PathKey("user", "profile.email"),
			cache.ArgKey("email"),
		},
		Execute: s.saveEmail,
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// rename stores u.Name. The user is cached under both read commands, so
// the by-email entry is dropped once the by-id write succeeds.
func (s *userService) rename(ctx context.Context, u *User) error {
	if err := s.updateUser.Call(ctx, cache.A("user", u)); err != nil {
		return err
	}
	return cache.CacheRemove(ctx, s.getByEmail.ID(),
		[]cache.KeySpec{cache.PathKey("user", "profile.email")}, cache.Args{cache.A("user", u)})
}

// changeEmail stores email as u's address and drops u's by-id entry,
// which still carries the old address.
func (s *userService) changeEmail(ctx context.Context, u *User, email string) error {
	if err := s.updateProfile.Call(ctx, cache.A("user", u), cache.A("email", email)); err != nil {
		return err
	}
	return cache.CacheRemove(ctx, s.getByID.ID(),
		[]cache.KeySpec{cache.PathKey("user", "id")}, cache.Args{cache.A("user", u)})
}

func stringArg(args cache.Args, name string) (string, error) {
	v, ok := args.Lookup(name)
	if !ok {
		return "", resilience.Permanent(fmt.Errorf("usersvc: missing argument %q", name))
	}
	s, ok := v.(string)
	if !ok {
		return "", resilience.Permanent(fmt.Errorf("usersvc: argument %q is %T, want string", name, v))
	}
	return s, nil
}

func userArg(args cache.Args) (*User, error) {
	v, _ := args.Lookup("user")
	u, ok := v.(*User)
	if !ok || u == nil {
		return nil, resilience.Permanent(fmt.Errorf("usersvc: argument %q is %T, want *User", "user", v))
	}
	return u, nil
}

func (s *userService) loadByID(ctx context.Context, args cache.Args) (User, error) {
	id, err := stringArg(args, "id")
	if err != nil {
		return User{}, err
	}
	var u User
	err = s.db.WithContext(ctx).Take(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, resilience.Permanent(fmt.Errorf("%w: id %q", errNotFound, id))
	}
	return u, err
}

func (s *userService) loadByEmail(ctx context.Context, args cache.Args) (User, error) {
	email, err := stringArg(args, "email")
	if err != nil {
		return User{}, err
	}
	var u User
	err = s.db.WithContext(ctx).Take(&u, "email = ?", strings.ToLower(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, resilience.Permanent(fmt.Errorf("%w: email %q", errNotFound, email))
	}
	return u, err
}

func (s *userService) insert(ctx context.Context, args cache.Args) error {
	u, err := userArg(args)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(u).Error
	if isDuplicate(err) {
		return resilience.Permanent(fmt.Errorf("%w: id %q", errConflict, u.ID))
	}
	return err
}

func (s *userService) saveName(ctx context.Context, args cache.Args) error {
	u, err := userArg(args)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", u.ID).Update("name", u.Name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return resilience.Permanent(fmt.Errorf("%w: id %q", errNotFound, u.ID))
	}
	return nil
}

func (s *userService) saveEmail(ctx context.Context, args cache.Args) error {
	u, err := userArg(args)
	if err != nil {
		return err
	}
	email, err := stringArg(args, "email")
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", u.ID).Update("email", email)
	if isDuplicate(res.Error) {
		return resilience.Permanent(fmt.Errorf("%w: email %q", errConflict, email))
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return resilience.Permanent(fmt.Errorf("%w: id %q", errNotFound, u.ID))
	}
	return nil
}

// isDuplicate reports a unique constraint violation. The driver message is
// checked as well for errors gorm does not translate.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
