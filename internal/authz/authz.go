// Package authz is the ownership gate for mutating operations.
//
// The whole policy is one table keyed by (action, resource kind). It does no
// I/O: callers fetch the repository, issue, pull request or account first
// and describe it with the Repository/Issue/PullRequest/Profile helpers.
//
//	repository   update, delete    owner
//	pull_request merge             repository owner
//	pull_request close, reopen     author or repository owner
//	pull_request update            author or repository owner
//	issue        update, assign    author or repository owner
//	profile      update            the account itself
//
// Any pair not in the table is denied, and so is an empty actor.
package authz

import (
	"fmt"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
)

type Action string

const (
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionMerge  Action = "merge"
	ActionClose  Action = "close"
	ActionReopen Action = "reopen"
	ActionAssign Action = "assign"
)

type Kind string

const (
	KindRepository  Kind = "repository"
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pull_request"
	KindProfile     Kind = "profile"
)

// Resource is what a rule looks at. OwnerID is the repository owner for
// repository-scoped resources and the account id for profiles. AuthorID is
// set only for issues and pull requests.
type Resource struct {
	Kind     Kind
	OwnerID  string
	AuthorID string
}

type rule func(actorID string, res Resource) bool

func ownerOnly(actorID string, res Resource) bool {
	return res.OwnerID != "" && actorID == res.OwnerID
}

func authorOrOwner(actorID string, res Resource) bool {
	return ownerOnly(actorID, res) || (res.AuthorID != "" && actorID == res.AuthorID)
}

type key struct {
	action Action
	kind   Kind
}

var policy = map[key]rule{
	{ActionUpdate, KindRepository}:  ownerOnly,
	{ActionDelete, KindRepository}:  ownerOnly,
	{ActionMerge, KindPullRequest}:  ownerOnly,
	{ActionClose, KindPullRequest}:  authorOrOwner,
	{ActionReopen, KindPullRequest}: authorOrOwner,
	{ActionUpdate, KindPullRequest}: authorOrOwner,
	{ActionUpdate, KindIssue}:       authorOrOwner,
	{ActionAssign, KindIssue}:       authorOrOwner,
	{ActionUpdate, KindProfile}:     ownerOnly,
}

// Can reports whether actorID may perform action on res.
func Can(actorID string, res Resource, action Action) bool {
	if actorID == "" {
		return false
	}
	allow, ok := policy[key{action, res.Kind}]
	if !ok {
		return false
	}
	return allow(actorID, res)
}

// Authorize is Can returning apperror.ErrForbidden on denial.
func Authorize(actorID string, res Resource, action Action) error {
	if Can(actorID, res, action) {
		return nil
	}
	return apperror.Forbidden(fmt.Sprintf("insufficient permissions to %s this %s", action, kindLabel(res.Kind)))
}

func kindLabel(k Kind) string {
	switch k {
	case KindPullRequest:
		return "pull request"
	case "":
		return "resource"
	}
	return string(k)
}

func Repository(repo *model.Repository) Resource {
	return Resource{Kind: KindRepository, OwnerID: repo.OwnerID}
}

func Issue(repo *model.Repository, issue *model.Issue) Resource {
	return Resource{Kind: KindIssue, OwnerID: repo.OwnerID, AuthorID: issue.AuthorID}
}

func PullRequest(repo *model.Repository, pr *model.PullRequest) Resource {
	return Resource{Kind: KindPullRequest, OwnerID: repo.OwnerID, AuthorID: pr.AuthorID}
}

func Profile(account *model.Account) Resource {
	return Resource{Kind: KindProfile, OwnerID: account.ID}
}
