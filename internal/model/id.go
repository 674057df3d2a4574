package model

import "fmt"

// Phase indicates which half of a message's two-phase identity is
// authoritative. A message is Local until the server confirms it, Remote
// afterwards. Once Remote, the server id never changes.
type Phase int

const (
	// PhaseLocal means only the client-generated local id exists.
	PhaseLocal Phase = iota
	// PhaseRemote means the server has assigned a canonical id. The local
	// id is retained when this device originated the message, so the
	// optimistic entry can be matched and replaced in place.
	PhaseRemote
)

// ID is the two-phase identity of a message.
type ID struct {
	Phase    Phase
	LocalID  string
	ServerID string
}

// LocalID constructs a pre-confirmation identity.
func NewLocalID(localID string) ID {
	return ID{Phase: PhaseLocal, LocalID: localID}
}

// NewRemoteID constructs a server-confirmed identity. localID may be empty
// for messages that did not originate on this device.
func NewRemoteID(serverID, localID string) ID {
	return ID{Phase: PhaseRemote, ServerID: serverID, LocalID: localID}
}

// Key returns the canonical map key for this identity: the server id once
// assigned, else the local id. Exactly one in-memory message exists per key.
func (id ID) Key() string {
	if id.Phase == PhaseRemote {
		return id.ServerID
	}
	return id.LocalID
}

// Confirmed reports whether the server id has been assigned.
func (id ID) Confirmed() bool {
	return id.Phase == PhaseRemote
}

// Confirm upgrades a local identity with a server id. Confirming an already
// remote identity with a different server id is a programming error.
func (id ID) Confirm(serverID string) (ID, error) {
	if id.Phase == PhaseRemote {
		if id.ServerID != serverID {
			return id, fmt.Errorf("identity %s already confirmed as %s, refusing %s", id.LocalID, id.ServerID, serverID)
		}
		return id, nil
	}
	return ID{Phase: PhaseRemote, ServerID: serverID, LocalID: id.LocalID}, nil
}

func (id ID) String() string {
	if id.Phase == PhaseRemote {
		return "remote:" + id.ServerID
	}
	return "local:" + id.LocalID
}
