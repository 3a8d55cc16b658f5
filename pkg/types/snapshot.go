package types

// PlayerView:
//   phase: "waiting" | "role_assignment" | "night" | "revelation" | "discussion" | "voting" | "game_over"
//   round: number
//   deadline: RFC 3339 time  // omitted when the phase has none
//   you: string              // your display name
//   role: string             // your own role only
//   teammates: string[]      // harm team only
//   speaker: string          // discussion: who holds the floor
//   roster: Seat[]           // id|name|kind (waiting only)|alive|ready|role (when visible)
//   votes: { [voter]: target }
//   transcript: { speaker, text }[] // current discussion
//   council: { speaker, text }[]    // harm team only
//   winner: "harm" | "non_harm"
//   end_reason: string
//
// EventView:
//   type: "participant_joined" | "participant_left" | "participant_ready" |
//         "phase_changed" | "role_assigned" | "utterance_received" | "speaker_passed" |
//         "council_message" | "vote_cast" | "night_action_submitted" | "vote_resolved" |
//         "night_resolved" | "player_eliminated" | "game_ended"
//   round, participant, target, role, cause, text, outcome,
//   old_phase, new_phase, deadline, winner // set as the type needs
//   (participant and target are names, not ids)
