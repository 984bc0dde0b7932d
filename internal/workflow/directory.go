package workflow

import "fmt"

// Directory is an ordered, read-only snapshot of users. Order matters: role
// resolution picks the first matching entry, so callers must build it from a
// stable ordering (creation time, then id).
type Directory struct {
	users []User
	byID  map[string]int
}

// NewDirectory builds a snapshot, rejecting duplicate ids and manager cycles.
func NewDirectory(users []User) (*Directory, error) {
	d := &Directory{
		users: make([]User, len(users)),
		byID:  make(map[string]int, len(users)),
	}
	copy(d.users, users)

	for i, u := range d.users {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: user at position %d has an empty id", ErrInvalidDirectory, i)
		}
		if _, dup := d.byID[u.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate user id %s", ErrInvalidDirectory, u.ID)
		}
		d.byID[u.ID] = i
	}

	if id, ok := d.findManagerCycle(); ok {
		return nil, fmt.Errorf("%w: manager cycle through user %s", ErrInvalidDirectory, id)
	}
	return d, nil
}

// Lookup returns the user with the given id.
func (d *Directory) Lookup(id string) (User, bool) {
	i, ok := d.byID[id]
	if !ok {
		return User{}, false
	}
	return d.users[i], true
}

// Manager returns the manager of userID when both exist in the snapshot.
func (d *Directory) Manager(userID string) (User, bool) {
	u, ok := d.Lookup(userID)
	if !ok || u.ManagerID == nil || *u.ManagerID == "" {
		return User{}, false
	}
	return d.Lookup(*u.ManagerID)
}

// WithRole returns every user holding role, in directory order.
func (d *Directory) WithRole(role string) []User {
	var out []User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out
}

// Users returns a copy of the snapshot in order.
func (d *Directory) Users() []User {
	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

// Len is the number of users in the snapshot.
func (d *Directory) Len() int {
	return len(d.users)
}

// findManagerCycle walks each manager chain; a chain longer than the
// directory must revisit someone.
func (d *Directory) findManagerCycle() (string, bool) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(d.users))

	for _, start := range d.users {
		if state[start.ID] == done {
			continue
		}
		var path []string
		id := start.ID
		for {
			if state[id] == visiting {
				return id, true
			}
			if state[id] == done {
				break
			}
			state[id] = visiting
			path = append(path, id)

			u, _ := d.Lookup(id)
			if u.ManagerID == nil {
				break
			}
			if _, ok := d.byID[*u.ManagerID]; !ok {
				break
			}
			id = *u.ManagerID
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return "", false
}
