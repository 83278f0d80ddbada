// Package events defines the events a voice session reports to the reply
// orchestrator.
//
// Event kinds are grouped by namespace:
//
//   - user_input.*
//   - conversation.*
//   - assistant_speech.*
//   - session.*
//
// user_input events
//
//   - TranscriptionUpdate (user_input.transcript_interim,
//     user_input.transcript_final): speech-to-text result. Interim updates
//     may still change, final updates are settled. Several updates are
//     produced per utterance.
//   - UserSpeechStarted (user_input.speech_started): speech activity began.
//   - UserSpeechEnded (user_input.speech_ended): speech activity ended.
//
// conversation events
//
//   - ConversationTurn (conversation.turn_committed): one committed turn,
//     attributed to the user or the assistant. Produced once per turn, in
//     the order the turns occurred.
//
// assistant_speech events
//
//   - AssistantAudioFrame (assistant_speech.frame): reply audio chunk.
//
// session events
//
//   - SessionStarted (session.started): session is ready for replies.
//   - SessionFailed (session.failed): session hit an unrecoverable error.
//   - SessionClosed (session.closed): session ended.
package events
