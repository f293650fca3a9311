// Package config resolves and manages named settings profiles ("modes").
//
// Every recognized key and its declared type come from the bundled default
// mode definition (settings.yaml, embedded at build time). A user override
// file may define additional modes; each starts as a copy of the defaults,
// layers in the explicit settings of any modes named in its _inherit list
// (in list order, later entries overriding earlier ones) and finally applies
// its own settings. One mode is live at a time: the active table is a
// mutable copy so runtime Set calls never touch the mode definitions.
//
// Mutations fire config.update on the injected event bus (and ChangeMode
// additionally fires config.change_mode first), letting subscribers such as
// the conversation log react without this package knowing about them.
package config
