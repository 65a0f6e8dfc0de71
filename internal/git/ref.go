package git

import (
	"fmt"
	"regexp"
	"strconv"
)

// pullRequestBranchPrefix names the local branches pull request refs are
// fetched into.
const pullRequestBranchPrefix = "ci-pr-"

var pullRequestRef = regexp.MustCompile(`^(?:refs/)?pull/(\d+)/head$`)

// Ref is a classified ref to build.
type Ref struct {
	// Name is the ref as given.
	Name string
	// PullRequest is the pull request number, or zero for ordinary refs.
	PullRequest int
}

// ParseRef classifies ref. Pull request refs are recognised in both the
// "pull/N/head" and "refs/pull/N/head" forms.
func ParseRef(ref string) (Ref, error) {
	if ref == "" {
		return Ref{}, fmt.Errorf("empty ref")
	}
	if m := pullRequestRef.FindStringSubmatch(ref); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Ref{}, fmt.Errorf("invalid pull request number in ref %q", ref)
		}
		return Ref{Name: ref, PullRequest: n}, nil
	}
	return Ref{Name: ref}, nil
}

func (r Ref) IsPullRequest() bool { return r.PullRequest > 0 }

// LocalBranch is the branch a pull request ref is fetched into.
func (r Ref) LocalBranch() string {
	if !r.IsPullRequest() {
		return ""
	}
	return pullRequestBranchPrefix + strconv.Itoa(r.PullRequest)
}

// fetchSpec is the ref to pass to fetch. Pull request refs are always
// fetched with their full name.
func (r Ref) fetchSpec() string {
	if r.IsPullRequest() {
		return fmt.Sprintf("refs/pull/%d/head", r.PullRequest)
	}
	return r.Name
}
