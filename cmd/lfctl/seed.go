package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/auth"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/groups"
)

// seedFile is the bootstrap document read by `lfctl seed`. Values are
// expanded against the environment, so passwords can stay out of the file:
//
//	users:
//	  - username: admin
//	    password: ${LF_ADMIN_PASSWORD}
//	    role: ADMIN
//	groups:
//	  - name: Staff
//	    whitelist_id: staff-rule
//	    members: [admin]
//	    links:
//	      - title: Wiki
//	        url: https://wiki.example.com
type seedFile struct {
	Users  []seedUser  `yaml:"users"`
	Groups []seedGroup `yaml:"groups"`
}

type seedUser struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	Password    string `yaml:"password"`
	Role        string `yaml:"role"`
}

type seedGroup struct {
	Name        string     `yaml:"name"`
	WhitelistID string     `yaml:"whitelist_id"`
	Members     []string   `yaml:"members"`
	Links       []seedLink `yaml:"links"`
}

type seedLink struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
	Icon  string `yaml:"icon"`
}

// userSeeder is the part of auth.AuthService seeding needs.
type userSeeder interface {
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
	CreateUser(ctx context.Context, input auth.CreateUserInput) (*auth.User, error)
}

// groupSeeder is the part of groups.GroupService seeding needs.
type groupSeeder interface {
	ListGroups(ctx context.Context) ([]groups.Group, error)
	CreateGroup(ctx context.Context, req groups.CreateGroupRequest) (*groups.Group, error)
	UpdateGroup(ctx context.Context, id string, req groups.UpdateGroupRequest) (*groups.Group, error)
	GetGroup(ctx context.Context, id string) (*groups.GroupDetail, error)
	AddMember(ctx context.Context, groupID, username string) (*groups.Member, error)
	AddLink(ctx context.Context, groupID string, req groups.LinkRequest) (*groups.Link, error)
}

func newSeedCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users, groups, memberships and links from a YAML file",
		Long: "Applies a bootstrap file. Existing users are left untouched, existing " +
			"groups get their whitelist id updated, and memberships and links " +
			"already present are skipped, so the command can be re-run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeed(path)
			if err != nil {
				return err
			}

			cfg, db, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			users := auth.NewAuthService(auth.NewUserRepository(db), nil, cfg.Auth.SessionTTL)
			groupService := groups.NewGroupService(groups.NewGroupRepository(db), users)
			return applySeed(cmd.Context(), cmd.OutOrStdout(), seed, users, groupService)
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "seed.yaml", "seed file to apply")
	return cmd
}

// loadSeed reads and validates a seed file.
func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &seed, nil
}

func (s *seedFile) validate() error {
	seen := make(map[string]bool)
	for i, u := range s.Users {
		if strings.TrimSpace(u.Username) == "" {
			return fmt.Errorf("users[%d]: username is required", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("users[%d]: duplicate username %s", i, u.Username)
		}
		if u.Password == "" {
			return fmt.Errorf("users[%d] %s: password is required (unset environment variable?)", i, u.Username)
		}
		seen[u.Username] = true
	}
	for i, g := range s.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
		for j, l := range g.Links {
			if l.Title == "" || l.URL == "" {
				return fmt.Errorf("groups[%d].links[%d]: title and url are required", i, j)
			}
		}
	}
	return nil
}

// applySeed creates what is missing and reports each step to out.
func applySeed(ctx context.Context, out io.Writer, seed *seedFile, users userSeeder, gs groupSeeder) error {
	for _, u := range seed.Users {
		_, err := users.FindByUsername(ctx, u.Username)
		switch {
		case err == nil:
			fmt.Fprintf(out, "user %s exists, skipped\n", u.Username)
			continue
		case errorCode(err) != http.StatusNotFound:
			return fmt.Errorf("looking up user %s: %w", u.Username, err)
		}

		if _, err := users.CreateUser(ctx, auth.CreateUserInput{
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Password:    u.Password,
			Role:        strings.ToUpper(u.Role),
		}); err != nil {
			return fmt.Errorf("creating user %s: %w", u.Username, err)
		}
		fmt.Fprintf(out, "user %s created\n", u.Username)
	}

	existing, err := gs.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}
	byName := make(map[string]string, len(existing))
	for _, g := range existing {
		byName[strings.ToLower(g.Name)] = g.ID
	}

	for _, g := range seed.Groups {
		id, ok := byName[strings.ToLower(g.Name)]
		if ok {
			wid := g.WhitelistID
			if _, err := gs.UpdateGroup(ctx, id, groups.UpdateGroupRequest{WhitelistID: &wid}); err != nil {
				return fmt.Errorf("updating group %s: %w", g.Name, err)
			}
			fmt.Fprintf(out, "group %s updated\n", g.Name)
		} else {
			created, err := gs.CreateGroup(ctx, groups.CreateGroupRequest{Name: g.Name, WhitelistID: g.WhitelistID})
			if err != nil {
				return fmt.Errorf("creating group %s: %w", g.Name, err)
			}
			id = created.ID
			byName[strings.ToLower(g.Name)] = id
			fmt.Fprintf(out, "group %s created\n", g.Name)
		}

		for _, username := range g.Members {
			_, err := gs.AddMember(ctx, id, username)
			switch {
			case err == nil:
				fmt.Fprintf(out, "  member %s added\n", username)
			case errorCode(err) == http.StatusConflict:
				fmt.Fprintf(out, "  member %s present, skipped\n", username)
			default:
				return fmt.Errorf("adding %s to %s: %w", username, g.Name, err)
			}
		}

		if len(g.Links) == 0 {
			continue
		}
		detail, err := gs.GetGroup(ctx, id)
		if err != nil {
			return fmt.Errorf("loading group %s: %w", g.Name, err)
		}
		titles := make(map[string]bool, len(detail.Links))
		for _, l := range detail.Links {
			titles[l.Title] = true
		}
		for _, l := range g.Links {
			if titles[l.Title] {
				fmt.Fprintf(out, "  link %s present, skipped\n", l.Title)
				continue
			}
			if _, err := gs.AddLink(ctx, id, groups.LinkRequest{Title: l.Title, URL: l.URL, Icon: l.Icon}); err != nil {
				return fmt.Errorf("adding link %s to %s: %w", l.Title, g.Name, err)
			}
			fmt.Fprintf(out, "  link %s added\n", l.Title)
		}
	}
	return nil
}

// errorCode returns the HTTP status an AppError carries, or 0.
func errorCode(err error) int {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}
