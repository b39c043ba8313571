package engine

var legalSteps = map[RoomState][]RoomState{
	StateWaiting:    {StateReady, StateCompleted},
	StateReady:      {StateInProgress, StateCompleted},
	StateInProgress: {StateCompleted},
	StateCompleted:  {},
}
