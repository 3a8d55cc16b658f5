package types

// Client -> Server (websocket, JSON, one object per frame)
// Every frame may carry ref: string, echoed on the ack/error it causes.
//
// join:
//   name: string            // shown until the game starts
//
// ready: {}
//
// start: {}                 // fails with role_count_mismatch if the quota cannot be dealt,
//                           // or name_pool_too_small if there are fewer names than seats
//
// fill_agents:
//   count: number           // 0 fills every free seat
//
// leave: {}                 // after the start this is an elimination
//
// speak:
//   text: string            // discussion: only on your turn; night: harm team council
//
// vote:
//   target: string          // display name or participant id
//   justification: string   // optional
//
// night_action:
//   target: string          // empty abstains
//   action: "harm" | "protect" // optional, taken from your role when missing

// Server -> Client
// snapshot:                 // see snapshot.go
//   version: number
//   state: PlayerView
//   events: EventView[]     // only events addressed to you, since the last snapshot
//
// ack:
//   ref: string
//
// Error:
//   ref: string
//   code: "wrong_phase" | "not_your_turn" | "self_vote" | "target_not_alive" |
//         "actor_not_alive" | "unknown_participant" | "roster_full" |
//         "already_started" | "role_mismatch" | "harm_team_target" |
//         "role_count_mismatch" | "name_pool_too_small" | "empty_utterance" |
//         "not_joined" | "bad_request"
//   error: string
//
