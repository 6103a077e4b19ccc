package milestone

// bundles is the pre-authored message table. Lesson-keyed entries exist only
// for the lessons the curriculum team scripted; every other lesson number is
// intentionally absent.
var bundles = map[bundleKey]MessageBundle{
	keyFor(TriggerOptIn, 0): {
		Trigger: TriggerOptIn,
		Coach: "Welcome {{firstName}}! I'm Coach Sarah and I'll be with you through the whole mini diploma. " +
			"You've already done the part most people never do: you showed up. Your first lesson is unlocked " +
			"and takes about ten minutes. When you finish it, come back here and tell us one thing that surprised you.",
		Peers: []PeerMessage{
			{PersonaName: "Megan", Delay: "2min", Variants: []string{
				"welcome {{firstName}}!! you're going to love lesson 1",
				"hi {{firstName}}, just started last week myself. it goes fast!",
			}},
			{PersonaName: "Priya", Delay: "8min", Variants: []string{
				"I was nervous on day one too {{firstName}}, promise it's easier than it looks",
			}},
		},
	},
	keyFor(TriggerLessonComplete, 1): {
		Trigger: TriggerLessonComplete,
		Lesson:  1,
		Coach: "{{firstName}}, lesson 1 done! That first lesson is where most people stall, and you're already past it. " +
			"Lesson 2 builds directly on what you just learned about client rapport, so it'll feel familiar.",
		Peers: []PeerMessage{
			{PersonaName: "Dana", Delay: "3min", Variants: []string{
				"nice work {{firstName}}! lesson 2 was my favorite",
				"congrats on lesson 1 {{firstName}} 🎉",
			}},
		},
	},
	keyFor(TriggerLessonComplete, 5): {
		Trigger: TriggerLessonComplete,
		Lesson:  5,
		Coach: "{{firstName}}, you just crossed the halfway point of your mini diploma. Five lessons in, five to go. " +
			"From here the material shifts from theory to coaching practice, which students consistently rate as the best part. " +
			"Keep your pace and you'll be sitting the exam within the week.",
		Peers: []PeerMessage{
			{PersonaName: "Megan", Delay: "2min", Variants: []string{
				"halfway!! go {{firstName}}!",
				"{{firstName}} you're flying through this",
			}},
			{PersonaName: "Tomás", Delay: "retroactive-1h", Variants: []string{
				"the back half is where it all clicked for me, enjoy it {{firstName}}",
			}},
		},
	},
	keyFor(TriggerLessonComplete, 10): {
		Trigger: TriggerLessonComplete,
		Lesson:  10,
		Coach: "That was the final lesson, {{firstName}}. Every module, done. The certification exam is now unlocked; " +
			"it's open book and most students pass on their first try. Take it while the material is fresh.",
		Peers: []PeerMessage{
			{PersonaName: "Priya", Delay: "5min", Variants: []string{
				"ALL TEN {{firstName}}!! the exam is easier than lesson 8, trust me",
			}},
		},
	},
	keyFor(TriggerExamPassed, 0): {
		Trigger: TriggerExamPassed,
		Coach: "Congratulations, {{firstName}} — you passed! Your certificate is being generated right now and you'll " +
			"find it on your dashboard. Take a moment to appreciate what you did here: a finished certification, start to end. " +
			"If coaching is something you want to take further, watch your inbox this week.",
		Peers: []PeerMessage{
			{PersonaName: "Dana", Delay: "2min", Variants: []string{
				"CONGRATS {{firstName}}!!! certified!!",
				"so happy for you {{firstName}} 🎓",
			}},
			{PersonaName: "Megan", Delay: "12min", Variants: []string{
				"welcome to the certified club {{firstName}}!",
			}},
		},
	},
	keyFor(TriggerNeverLoggedIn24h, 0): {
		Trigger: TriggerNeverLoggedIn24h,
		Coach: "Hi {{firstName}}, Coach Sarah here. I noticed you claimed your seat yesterday but haven't made it in yet. " +
			"No pressure — life happens. Your first lesson is ten minutes whenever you're ready, and I'll be here.",
	},
	keyFor(TriggerStuckMidCourse, 0): {
		Trigger: TriggerStuckMidCourse,
		Coach: "{{firstName}}, you were making real progress and then things went quiet. That's normal — almost everyone " +
			"stalls once. The students who finish are just the ones who come back. Your next lesson is short; want to knock it out today?",
		Peers: []PeerMessage{
			{PersonaName: "Tomás", Delay: "retroactive-1h", Variants: []string{
				"I stalled at the same spot {{firstName}}, the next lesson is what got me moving again",
			}},
		},
	},
	keyFor(TriggerDeadline48h, 0): {
		Trigger: TriggerDeadline48h,
		Coach: "{{firstName}}, a heads up from me: your program access closes in 48 hours. You have everything you need " +
			"to finish — the remaining lessons add up to under an hour. Let's get you across the line.",
	},
}
